package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
)

// MockFailMarker makes the mock invoker fail for any text containing it.
const MockFailMarker = "[[fail]]"

// Mock is a deterministic offline invoker: the same text always yields the
// same translation and confidence.
type Mock struct{}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Translate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if strings.Contains(req.Text, MockFailMarker) {
		return Result{}, fmt.Errorf("mock provider rejected segment")
	}
	sum := sha256.Sum256([]byte(req.ModelID + "\x00" + req.Text))
	// confidence in [0.70, 0.99]
	confidence := 0.70 + float64(binary.BigEndian.Uint16(sum[:2])%30)/100
	return Result{
		TranslatedText: fmt.Sprintf("[%s] %s", req.ModelID, strings.TrimSpace(req.Text)),
		Confidence:     confidence,
	}, nil
}
