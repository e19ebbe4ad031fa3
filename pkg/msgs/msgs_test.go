package msgs

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeKnownTypes(t *testing.T) {
	tests := []struct {
		name        string
		messageType string
		payload     string
		want        interface{}
	}{
		{
			name:        "joy",
			messageType: TypeJoy,
			payload:     `{"axes":[0.5,-0.5,0],"buttons":[1,0]}`,
			want:        Joy{Axes: []float64{0.5, -0.5, 0}, Buttons: []int32{1, 0}},
		},
		{
			name:        "battery",
			messageType: TypeBatteryState,
			payload:     `{"voltage":15.8,"current":2.1}`,
			want:        BatteryState{Voltage: 15.8, Current: 2.1},
		},
		{
			name:        "rc out",
			messageType: TypeRCOut,
			payload:     `{"channels":[1500,1520,1480,1500,1900,1100,0,0]}`,
			want:        RCOut{Channels: []uint16{1500, 1520, 1480, 1500, 1900, 1100, 0, 0}},
		},
		{
			name:        "override",
			messageType: TypeOverrideRCIn,
			payload:     `{"channels":[1700,1300,1500,1500,1500,1500,0,0]}`,
			want:        OverrideRCIn{Channels: [8]uint16{1700, 1300, 1500, 1500, 1500, 1500, 0, 0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.messageType, []byte(tt.payload))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode("std_msgs/String", []byte(`{}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("Expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := Decode(TypeRCIn, []byte(`{"channels":"not-a-list"}`))
	if err == nil {
		t.Errorf("Expected error for malformed payload, got nil")
	}
}
