package invoker

import "testing"

func TestSafeJSONParsePlain(t *testing.T) {
	raw, ok := SafeJSONParse(`{"a": 1}`)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if string(raw) != `{"a": 1}` {
		t.Fatalf("unexpected raw: %s", raw)
	}
}

func TestSafeJSONParseFenced(t *testing.T) {
	text := "```json\n[{\"id\": 1}]\n```"
	raw, ok := SafeJSONParse(text)
	if !ok {
		t.Fatal("expected fenced parse to succeed")
	}
	if string(raw) != `[{"id": 1}]` {
		t.Fatalf("unexpected raw: %s", raw)
	}
}

func TestSafeJSONParseSurroundingProse(t *testing.T) {
	text := `Here are the results you asked for: {"matches": []} Let me know if you need more.`
	raw, ok := SafeJSONParse(text)
	if !ok {
		t.Fatal("expected salvage to succeed")
	}
	if string(raw) != `{"matches": []}` {
		t.Fatalf("unexpected raw: %s", raw)
	}
}

func TestSafeJSONParseArrayInProse(t *testing.T) {
	text := `Sure! [1, 2, 3] is the list.`
	raw, ok := SafeJSONParse(text)
	if !ok {
		t.Fatal("expected array salvage to succeed")
	}
	if string(raw) != `[1, 2, 3]` {
		t.Fatalf("unexpected raw: %s", raw)
	}
}

func TestSafeJSONParseRejectsProse(t *testing.T) {
	if _, ok := SafeJSONParse("I could not produce any structured output."); ok {
		t.Fatal("expected prose to fail")
	}
	if _, ok := SafeJSONParse(""); ok {
		t.Fatal("expected empty input to fail")
	}
	// Scalars are not usable agent output even though they are valid JSON.
	if _, ok := SafeJSONParse("42"); ok {
		t.Fatal("expected bare scalar to fail")
	}
}

func TestParseJSONInto(t *testing.T) {
	var dst []struct {
		ID int64 `json:"id"`
	}
	if !ParseJSONInto("```\n[{\"id\": 5}]\n```", &dst) {
		t.Fatal("expected ParseJSONInto to succeed")
	}
	if len(dst) != 1 || dst[0].ID != 5 {
		t.Fatalf("unexpected result: %+v", dst)
	}
	if ParseJSONInto("no json here", &dst) {
		t.Fatal("expected ParseJSONInto to fail on prose")
	}
}
