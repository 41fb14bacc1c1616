package binlog

import "testing"

func TestNewServerVersion(t *testing.T) {
	cases := []struct {
		in      string
		want    serverVersion
		wantErr bool
	}{
		{"5", serverVersion{5, 0, 0}, false},
		{"5.7", serverVersion{5, 7, 0}, false},
		{"5.7.31", serverVersion{5, 7, 31}, false},
		{"8.0.26-log", serverVersion{8, 0, 26}, false},
		{"5.5.5-10.5.9-MariaDB", serverVersion{5, 5, 5}, false}, // MariaDB suffix stripped at first '-'
		{"5.7.31.1", nil, true},                                 // more than 3 dotted components
		{"256.0.0", nil, true},              // major out of range
		{"", nil, true},
		{"5.x.1", nil, true},
	}
	for _, tc := range cases {
		got, err := newServerVersion(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("newServerVersion(%q): want error, got %v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("newServerVersion(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if !got.eq(tc.want) {
			t.Errorf("newServerVersion(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestServerVersion_binlogVersion(t *testing.T) {
	cases := []struct {
		in   string
		want uint16
	}{
		{"3.23.0", 1},
		{"4.0.1", 2},
		{"4.1.0", 3},
		{"5.0.0", 4},
		{"8.0.26", 4},
	}
	for _, tc := range cases {
		sv, err := newServerVersion(tc.in)
		if err != nil {
			t.Fatalf("newServerVersion(%q): %v", tc.in, err)
		}
		if got := sv.binlogVersion(); got != tc.want {
			t.Errorf("binlogVersion(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
