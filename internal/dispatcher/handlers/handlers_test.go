package handlers

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestCatchAllHandler_Count(t *testing.T) {
	logrus.SetLevel(logrus.TraceLevel)
	h := NewCatchAllHandler()

	h.Handle(context.Background(), "unknownEvent", map[string]any{"a": 1})
	h.Handle(context.Background(), "otherEvent", nil)

	assert.Equal(t, uint64(2), h.Count())
}

func TestDebugHandler_Handle(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		wantErr bool
	}{
		{name: "map payload", payload: map[string]any{"eventType": "listed", "sales": []any{}}},
		{name: "nil payload", payload: nil},
		{name: "unsupported payload", payload: make(chan int), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDebugHandler("saleFeed").Handle(context.Background(), tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
