package template

import (
	"fmt"
	"reflect"
	"testing"
)

const (
	pathKey  = "PATH"
	pathVal  = "/tmp/state"
	portKey  = "PORT"
	portVal  = ":80"
)

var kws = map[string]string{
	pathKey: pathVal,
	portKey: portVal,
}

func TestParseAndReplace_UnknownKeywordLeftAlone(t *testing.T) {
	input := "invalid $FOO"
	exp := []string{"invalid", "$FOO"}
	act, err := ParseAndReplace(input, kws)
	if err != nil {
		t.Fatalf("ParseAndReplace(%v) failed: %v", input, err)
	}
	if !reflect.DeepEqual(act, exp) {
		t.Fatalf("ParseAndReplace(%v, %v) = %#v; want %#v", input, kws, act, exp)
	}
}

func TestParseAndReplace_Substitutes(t *testing.T) {
	input := fmt.Sprintf("flasher \\\"$%s\\\"!", pathKey)
	exp := []string{"flasher", fmt.Sprintf("\"%s\"!", pathVal)}
	act, err := ParseAndReplace(input, kws)
	if err != nil {
		t.Fatalf("ParseAndReplace(%v) failed: %v", input, err)
	}
	if !reflect.DeepEqual(act, exp) {
		t.Fatalf("ParseAndReplace(%v, %v) = %#v; want %#v", input, kws, act, exp)
	}
}

func TestParseAndReplace_Chained(t *testing.T) {
	input := fmt.Sprintf("-f $%s$%s", pathKey, portKey)
	exp := []string{"-f", fmt.Sprintf("%s%s", pathVal, portVal)}
	act, err := ParseAndReplace(input, kws)
	if err != nil {
		t.Fatalf("ParseAndReplace(%v) failed: %v", input, err)
	}
	if !reflect.DeepEqual(act, exp) {
		t.Fatalf("ParseAndReplace(%v, %v) = %#v; want %#v", input, kws, act, exp)
	}
}

func TestParseAndReplace_InvalidEscape(t *testing.T) {
	input := `-c "echo "foo\" > bar.txt"`
	if _, err := ParseAndReplace(input, kws); err == nil {
		t.Fatalf("ParseAndReplace(%v) should have failed", input)
	}
}
