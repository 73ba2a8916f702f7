package vision

import (
	"fmt"
	"os"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// InitRuntime initializes the shared ONNX runtime environment once per
// process. Must be called before any encoder is constructed.
func InitRuntime() error {
	ort.SetSharedLibraryPath(onnxLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx runtime: %w", err)
	}
	return nil
}

// ShutdownRuntime releases the ONNX runtime environment.
func ShutdownRuntime() {
	_ = ort.DestroyEnvironment()
}

func onnxLibPath() string {
	if path := os.Getenv("ONNXRUNTIME_LIB_PATH"); path != "" {
		return path
	}
	switch runtime.GOOS {
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "/usr/lib/libonnxruntime.so"
	}
}
