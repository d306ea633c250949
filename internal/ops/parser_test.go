package ops

import (
	"errors"
	"testing"
)

func TestParse_OrderAndTokens(t *testing.T) {
	specs, err := Parse(MediaImage, "resize,w_800,h_600/quality,q_75")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(specs) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(specs))
	}
	if specs[0].Name != OpResize || specs[1].Name != OpQuality {
		t.Errorf("wrong stage order: %s, %s", specs[0].Name, specs[1].Name)
	}
	if specs[0].Position != 0 || specs[1].Position != 1 {
		t.Errorf("wrong positions: %d, %d", specs[0].Position, specs[1].Position)
	}

	want := []RawParam{{Key: "w", Value: "800"}, {Key: "h", Value: "600"}}
	if len(specs[0].Params) != len(want) {
		t.Fatalf("expected %d params, got %d", len(want), len(specs[0].Params))
	}
	for i, p := range specs[0].Params {
		if p != want[i] {
			t.Errorf("param %d: got %+v, want %+v", i, p, want[i])
		}
	}
}

func TestParse_ValueKeepsUnderscores(t *testing.T) {
	specs, err := Parse(MediaImage, "watermark,text_hello_world")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := specs[0].Params[0].Value; got != "hello_world" {
		t.Errorf("value split on wrong underscore: got %q, want %q", got, "hello_world")
	}
}

func TestParse_BareTokenHasEmptyValue(t *testing.T) {
	specs, err := Parse(MediaImage, "resize,w_100,limit")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	last := specs[0].Params[len(specs[0].Params)-1]
	if last.Key != "limit" || last.Value != "" {
		t.Errorf("bare token: got %+v, want key=limit value=\"\"", last)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name       string
		media      MediaType
		operations string
	}{
		{"empty string", MediaImage, ""},
		{"empty stage", MediaImage, "resize,w_100//quality,q_75"},
		{"trailing slash", MediaImage, "grayscale/"},
		{"unknown operation", MediaImage, "sharpen,r_2"},
		{"operation from another namespace", MediaImage, "convert,f_mp3"},
		{"empty token", MediaImage, "resize,w_100,"},
		{"token without key", MediaImage, "resize,_100"},
		{"duplicate key", MediaImage, "resize,w_100,w_200"},
		{"unknown media type", MediaType("archive"), "resize,w_100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.media, tt.operations)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.operations)
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Errorf("expected *ParseError, got %T", err)
			}
		})
	}
}

func TestParse_ErrorPosition(t *testing.T) {
	_, err := Parse(MediaImage, "resize,w_100/bogus,x_1")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if perr.Position != 1 {
		t.Errorf("expected position 1, got %d", perr.Position)
	}
}
