package driver

import (
	"reflect"
	"testing"
)

func TestSplitNonEmpty(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a,b,c", []string{"a", "b", "c"}},
		{"a, b ,, c", []string{"a", "b", "c"}},
		{" , , ", []string{}},
	}
	for _, c := range cases {
		got := splitNonEmpty(c.in)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("splitNonEmpty(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
