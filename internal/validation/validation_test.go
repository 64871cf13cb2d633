package validation

import (
	"errors"
	"ms-roster/internal/apperr"
	"ms-roster/internal/models"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualBookingInput_Valid(t *testing.T) {
	v := New()
	in := models.ManualBookingInput{FirstName: "Anna", LastName: "Rossi", Email: "anna@example.com", ParticipantCount: 2}
	assert.NoError(t, Struct(v, in))
}

func TestManualBookingInput_MissingFields(t *testing.T) {
	v := New()
	err := Struct(v, models.ManualBookingInput{FirstName: "   ", Email: "nope"})

	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "is required", ve.Fields["lastName"])
	assert.Equal(t, "is required", ve.Fields["firstName"])
	assert.Equal(t, "must be a valid email address", ve.Fields["email"])
	assert.Equal(t, "is required", ve.Fields["participantCount"])
}

func TestSyncRequest(t *testing.T) {
	v := New()
	assert.NoError(t, Struct(v, models.SyncRequest{Mode: models.SyncFull}))
	assert.NoError(t, Struct(v, models.SyncRequest{Mode: models.SyncSingleEvent, ProductID: "77"}))

	err := Struct(v, models.SyncRequest{Mode: models.SyncSingleEvent})
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "productId")

	err = Struct(v, models.SyncRequest{Mode: "everything", Days: -1})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "must be one of full incremental single_event", ve.Fields["mode"])
	assert.Equal(t, "must be at least 0", ve.Fields["days"])
}

func TestFieldPatch(t *testing.T) {
	v := New()
	hidden := models.MappingHidden
	assert.NoError(t, Struct(v, models.FieldPatch{MappingType: &hidden}))

	bad := models.MappingType("SECRET")
	empty := ""
	err := Struct(v, models.FieldPatch{MappingType: &bad, Label: &empty})
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "mappingType")
	assert.Contains(t, ve.Fields, "label")
}

func TestDecodeAndValidate(t *testing.T) {
	v := New()

	var req models.SyncRequest
	r := httptest.NewRequest("POST", "/api/sync", strings.NewReader(`{"mode":"incremental","days":7}`))
	require.NoError(t, DecodeAndValidate(r, &req, v))
	assert.Equal(t, 7, req.Days)

	r = httptest.NewRequest("POST", "/api/sync", strings.NewReader(`{"mode":`))
	assert.True(t, apperr.IsValidation(DecodeAndValidate(r, &req, v)))

	r = httptest.NewRequest("POST", "/api/sync", strings.NewReader(``))
	assert.True(t, apperr.IsValidation(DecodeAndValidate(r, &models.SyncRequest{}, v)))
}
