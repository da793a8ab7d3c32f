package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	err := APIError("request failed", errors.New("boom"))
	assert.Equal(t, "[api] request failed: boom", err.Error())
	assert.Equal(t, "[precondition] no page", PreconditionError("no page").Error())
}

func TestIsType_WalksChain(t *testing.T) {
	inner := InvalidCredentialError("API key not valid", nil)
	outer := APIError("The AI returned an error", inner)
	wrapped := fmt.Errorf("extract: %w", outer)

	assert.True(t, IsType(wrapped, ErrorTypeAPI))
	assert.True(t, IsType(wrapped, ErrorTypeCredential))
	assert.False(t, IsType(wrapped, ErrorTypeTransient))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeAPI))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"innermost wins", APIError("outer", InvalidCredentialError("bad key", nil)), ErrorTypeCredential},
		{"transient over plain", TransientServiceError("busy", errors.New("HTTP 503")), ErrorTypeTransient},
		{"plain error", errors.New("plain"), ErrorTypeAPI},
		{"stale", ErrStaleResult, ErrorTypeStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, CategoryNeedsCredential, CategoryOf(APIError("x", InvalidCredentialError("y", nil))))
	assert.Equal(t, CategoryRetryLater, CategoryOf(TransientServiceError("busy", nil)))
	assert.Equal(t, CategoryRetryLater, CategoryOf(MalformedResponseError("bad", "raw", nil)))
	assert.Equal(t, CategoryInfo, CategoryOf(ErrStaleResult))
	assert.Equal(t, CategoryFatal, CategoryOf(SafetyBlockedError("blocked")))
	assert.Equal(t, CategoryFatal, CategoryOf(RenderError("corrupt", nil)))
}

func TestIsEmptyResponse(t *testing.T) {
	assert.True(t, IsEmptyResponse(EmptyResponseError("empty")))
	assert.True(t, IsEmptyResponse(SafetyBlockedError("blocked")))
	assert.False(t, IsEmptyResponse(MalformedResponseError("bad", "raw", nil)))
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, UserMessage(SafetyBlockedError("x")), "safety filters")
	assert.Contains(t, UserMessage(APIError("x", InvalidCredentialError("y", nil))), "API key")
	assert.Equal(t, "no page is rendered", UserMessage(PreconditionError("no page is rendered")))
	assert.Equal(t, "enhance failed: boom", UserMessage(ImageActionError("enhance failed", errors.New("boom"))))
	assert.Equal(t, "", UserMessage(nil))
}

func TestExtractionRecord_CloneIsDeep(t *testing.T) {
	rec := ExtractionRecord{
		ID:             "a",
		QACFixes:       []Fix{{Original: "x"}},
		DetectedImages: []DetectedImage{{ID: "img"}},
	}

	clone := rec.Clone()
	clone.QACFixes[0].Original = "changed"
	clone.DetectedImages[0].IsProcessing = true

	assert.Equal(t, "x", rec.QACFixes[0].Original)
	assert.False(t, rec.DetectedImages[0].IsProcessing)

	img, ok := rec.Image("img")
	assert.True(t, ok)
	assert.Equal(t, "img", img.ID)
	_, ok = rec.Image("missing")
	assert.False(t, ok)
}

func TestCropRect_IsReset(t *testing.T) {
	assert.True(t, CropRect{X: 5, Y: 5}.IsReset())
	assert.True(t, CropRect{Width: 10}.IsReset())
	assert.False(t, CropRect{Width: 10, Height: 10}.IsReset())
}
