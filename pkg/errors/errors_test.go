package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorWrapsUnknown(t *testing.T) {
	err := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
}

func TestCloneKeepsSentinelUntouched(t *testing.T) {
	clone := Clone(ErrSlotBooked, "lab L1 period 2 is taken")
	assert.Equal(t, "lab L1 period 2 is taken", clone.Message)
	assert.Equal(t, "slot already booked", ErrSlotBooked.Message)
	assert.True(t, HasCode(clone, ErrSlotBooked.Code))
}

func TestHasCodeThroughWrapping(t *testing.T) {
	inner := Clone(ErrValidation, "bad date")
	wrapped := Wrap(inner, ErrInternal.Code, http.StatusInternalServerError, "outer")
	assert.True(t, HasCode(wrapped, ErrInternal.Code))
	assert.False(t, HasCode(nil, ErrInternal.Code))
	assert.False(t, HasCode(errors.New("plain"), ErrValidation.Code))
}

func TestWithDetails(t *testing.T) {
	err := WithDetails(ErrSlotBooked, "", map[string]string{"booking_id": "b1"})
	assert.Equal(t, ErrSlotBooked.Message, err.Message)
	assert.NotNil(t, err.Details)
	assert.Nil(t, ErrSlotBooked.Details)
}
