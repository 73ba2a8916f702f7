package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is a detected face location prior to embedding.
type Detection struct {
	BBox  [4]float32 // x1, y1, x2, y2 (pixel coordinates)
	Score float32
}

// Detector runs RetinaFace face detection using ONNX Runtime.
// The input resolution is configurable; a reduced resolution gives a
// cheaper detection pass at the cost of recall on small faces.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

// stride configuration for RetinaFace det_10g
var strides = []int{8, 16, 32}

// anchorsPerStride is the number of anchors per pixel at each stride
const anchorsPerStride = 2

// retinaOutputNames are the score/bbox output tensor names of det_10g,
// ordered scores (stride 8, 16, 32) then bboxes (stride 8, 16, 32).
var retinaOutputNames = []string{"448", "471", "494", "451", "474", "497"}

// NewDetector loads the RetinaFace ONNX model at the given square input
// resolution (e.g. 640 for the full pass, 320 for a fast prefilter).
func NewDetector(modelPath string, threshold float64, inputSize int) (*Detector, error) {
	if inputSize <= 0 || inputSize%32 != 0 {
		return nil, fmt.Errorf("detector input size must be a positive multiple of 32, got %d", inputSize)
	}
	inputW, inputH := inputSize, inputSize

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output shapes have no batch dimension: per stride s the model
	// emits (w/s)*(h/s)*anchors rows of scores [N,1] and bboxes [N,4].
	shapes := make([]ort.Shape, 0, len(retinaOutputNames))
	for _, dim := range []int64{1, 4} {
		for _, s := range strides {
			n := int64((inputW / s) * (inputH / s) * anchorsPerStride)
			shapes = append(shapes, ort.NewShape(n, dim))
		}
	}

	outputTensors := make([]*ort.Tensor[float32], len(retinaOutputNames))
	outputValues := make([]ort.Value, len(retinaOutputNames))
	for i, shape := range shapes {
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", retinaOutputNames[i], err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		retinaOutputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     float32(threshold),
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect runs face detection on a preprocessed image.
// imgData must be CHW format [3, inputH, inputW], normalized.
// origW/origH are the original image dimensions for coordinate scaling.
// The returned detections are ordered by descending score.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	detections := d.parseDetections(origW, origH)
	return nms(detections, 0.4), nil
}

// parseDetections decodes anchor-based RetinaFace outputs at strides 8, 16, 32.
func (d *Detector) parseDetections(origW, origH int) []Detection {
	var detections []Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()   // [N, 1]
		bboxes := d.outputTensors[si+3].GetData() // [N, 4]

		fmW := d.inputW / stride
		fmH := d.inputH / stride

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					score := scores[idx]

					if score >= d.threshold {
						anchorX := float32(cx) * float32(stride)
						anchorY := float32(cy) * float32(stride)

						// Bbox outputs are normalized distances from the
						// anchor center to each edge, in stride units.
						st := float32(stride)
						x1 := (anchorX - bboxes[idx*4+0]*st) * scaleW
						y1 := (anchorY - bboxes[idx*4+1]*st) * scaleH
						x2 := (anchorX + bboxes[idx*4+2]*st) * scaleW
						y2 := (anchorY + bboxes[idx*4+3]*st) * scaleH

						detections = append(detections, Detection{
							BBox: [4]float32{
								clampF(x1, 0, float32(origW)),
								clampF(y1, 0, float32(origH)),
								clampF(x2, 0, float32(origW)),
								clampF(y2, 0, float32(origH)),
							},
							Score: score,
						})
					}
					idx++
				}
			}
		}
	}

	return detections
}

// InputSize returns the model's expected input dimensions.
func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms performs Non-Maximum Suppression on detections.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if keep[j] && iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
