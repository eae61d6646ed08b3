package geometry

import "testing"

func TestFromSlice(t *testing.T) {
	b, ok := FromSlice([]float64{10, 20, 110, 220})
	if !ok {
		t.Fatal("expected ok for 4-element slice")
	}
	if b.Y0 != 10 || b.X0 != 20 || b.Y1 != 110 || b.X1 != 220 {
		t.Errorf("unexpected box: %+v", b)
	}

	if _, ok := FromSlice([]float64{1, 2, 3}); ok {
		t.Error("expected failure for 3-element slice")
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name string
		in   Box
		want Box
	}{
		{
			name: "inside bounds unchanged",
			in:   Box{Y0: 10, X0: 10, Y1: 50, X1: 50},
			want: Box{Y0: 10, X0: 10, Y1: 50, X1: 50},
		},
		{
			name: "negative origin clamped to zero",
			in:   Box{Y0: -5, X0: -8, Y1: 50, X1: 50},
			want: Box{Y0: 0, X0: 0, Y1: 50, X1: 50},
		},
		{
			name: "overflow clamped to image size",
			in:   Box{Y0: 10, X0: 10, Y1: 900, X1: 900},
			want: Box{Y0: 10, X0: 10, Y1: 100, X1: 200},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Clamp(200, 100)
			if got != tt.want {
				t.Errorf("Clamp() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValid(t *testing.T) {
	if !(Box{Y0: 0, X0: 0, Y1: 1, X1: 1}).Valid() {
		t.Error("unit box should be valid")
	}
	if (Box{Y0: 5, X0: 5, Y1: 5, X1: 10}).Valid() {
		t.Error("zero-height box should be invalid")
	}
	if (Box{Y0: 5, X0: 10, Y1: 10, X1: 5}).Valid() {
		t.Error("inverted box should be invalid")
	}
}

func TestDenormalize(t *testing.T) {
	b := Box{Y0: 500, X0: 250, Y1: 1000, X1: 750}
	got := b.Denormalize(400, 200)
	want := Box{Y0: 100, X0: 100, Y1: 200, X1: 300}
	if got != want {
		t.Errorf("Denormalize() = %+v, want %+v", got, want)
	}
}
