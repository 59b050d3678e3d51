package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageStatus_String(t *testing.T) {
	tests := []struct {
		status PageStatus
		want   string
	}{
		{PageStatusUnset, "unset"},
		{PageStatusParsed, "parsed"},
		{PageStatusFailure, "failure"},
		{PageStatusNotFound, "not_found"},
		{PageStatusDBError, "db_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestPageStatus_IsValid(t *testing.T) {
	tests := []struct {
		status PageStatus
		want   bool
	}{
		{PageStatusParsed, true},
		{PageStatusFailure, true},
		{PageStatusUnset, false},
		{PageStatusNotFound, false},
		{PageStatusDBError, false},
		{PageStatus("arbitrary"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.IsValid(), "PageStatus(%q).IsValid()", string(tt.status))
	}
}

func TestImageStatus_IsValid(t *testing.T) {
	tests := []struct {
		status ImageStatus
		want   bool
	}{
		{ImageStatusSuccess, true},
		{ImageStatusFailure, true},
		{ImageStatusSkipped, true},
		{ImageStatusUnset, false},
		{ImageStatusNotFound, false},
		{ImageStatusDBError, false},
		{ImageStatus("arbitrary"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.IsValid(), "ImageStatus(%q).IsValid()", string(tt.status))
	}
}

func TestImageStatus_Done(t *testing.T) {
	assert.True(t, ImageStatusSuccess.Done())
	assert.True(t, ImageStatusSkipped.Done())
	assert.False(t, ImageStatusFailure.Done())
	assert.False(t, ImageStatusUnset.Done())
	assert.Equal(t, "unset", ImageStatusUnset.String())
}
