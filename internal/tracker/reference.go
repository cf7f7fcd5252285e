package tracker

import (
	"context"

	"github.com/deflagg/eva/pkg/eva"
)

// NullRawDetector is the out-of-the-box stand-in for a real model-backed
// detector: it decodes nothing and reports no boxes. It exists purely so the
// default binary boots and exercises the full C3-C9 wiring end to end
// without a model dependency; production deployments inject a real
// RawDetector (an HTTP/gRPC client to a hosted model) via DetectorFactory.
type NullRawDetector struct{}

func (NullRawDetector) DetectRaw(ctx context.Context, f eva.Frame) ([]eva.Detection, error) {
	return nil, nil
}
