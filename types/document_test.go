package types

import (
	"encoding/json"
	"testing"
)

func TestParseDocument_Nested(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"total_markers": 12, "image_size": [640, 480], "method": "gradcam", "meta": {"ok": true, "note": null}}`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}

	if n, ok := doc["total_markers"].AsNumber(); !ok || n != 12 {
		t.Errorf("total_markers = %v (%v), want 12", n, ok)
	}
	size, ok := doc["image_size"].AsArray()
	if !ok || len(size) != 2 {
		t.Fatalf("image_size = %v, want 2-item array", doc["image_size"])
	}
	if s, _ := doc["method"].AsString(); s != "gradcam" {
		t.Errorf("method = %q, want gradcam", s)
	}
	meta, ok := doc["meta"].AsObject()
	if !ok {
		t.Fatal("meta is not an object")
	}
	if meta["note"].Kind() != NullValue {
		t.Errorf("meta.note kind = %s, want null", meta["note"].Kind())
	}
}

func TestParseDocument_RejectsNonObject(t *testing.T) {
	for _, in := range []string{`[1,2]`, `"x"`, `42`, `null`} {
		if _, err := ParseDocument([]byte(in)); err == nil {
			t.Errorf("ParseDocument(%s): expected error", in)
		}
	}
}

func TestDocument_MergeOverwritesAndKeeps(t *testing.T) {
	old := Document{
		"brushStrokes": Array(String("a")),
		"method":       String("manual"),
	}
	patch := Document{
		"method":        String("gradcam"),
		"total_markers": Number(3),
	}

	merged := old.Merge(patch)

	want := Document{
		"brushStrokes":  Array(String("a")),
		"method":        String("gradcam"),
		"total_markers": Number(3),
	}
	if !merged.Equal(want) {
		t.Errorf("merged = %v, want %v", merged.ToMap(), want.ToMap())
	}
	if s, _ := old["method"].AsString(); s != "manual" {
		t.Error("Merge mutated the receiver")
	}
}

func TestDocument_MergeIntoNil(t *testing.T) {
	var old Document
	merged := old.Merge(Document{"k": Bool(true)})
	if len(merged) != 1 {
		t.Fatalf("len = %d, want 1", len(merged))
	}
	if old.Merge(nil) != nil {
		t.Error("nil merged with nil should stay nil")
	}
}

func TestDocument_MergeReplacesNestedObjects(t *testing.T) {
	old := Document{"meta": Object(Document{"a": Number(1), "b": Number(2)})}
	merged := old.Merge(Document{"meta": Object(Document{"a": Number(9)})})

	meta, _ := merged["meta"].AsObject()
	if _, ok := meta["b"]; ok {
		t.Error("nested object should be replaced, not merged")
	}
}

func TestDocument_JSONRoundTripShape(t *testing.T) {
	doc := Document{"n": Number(1.5), "s": String("x"), "list": Array(Bool(false), Null())}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if generic["n"] != 1.5 || generic["s"] != "x" {
		t.Errorf("unexpected encoding: %s", data)
	}

	var back Document
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	if !back.Equal(doc) {
		t.Errorf("decoded %v, want %v", back.ToMap(), doc.ToMap())
	}
}

func TestDocument_NilMarshalsAsNull(t *testing.T) {
	var doc Document
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("got %s, want null", data)
	}
}

func TestFromAny_DecoderIntegerTypes(t *testing.T) {
	// msgpack decoders produce sized integers and map[string]any.
	raw := map[string]any{
		"i8":  int8(-3),
		"u16": uint16(500),
		"i64": int64(1 << 40),
		"f32": float32(0.5),
		"nested": map[string]any{
			"list": []any{uint8(1), "two"},
		},
	}
	doc, err := DocumentFromMap(raw)
	if err != nil {
		t.Fatalf("DocumentFromMap: %v", err)
	}
	if n, _ := doc["i8"].AsNumber(); n != -3 {
		t.Errorf("i8 = %v", n)
	}
	if n, _ := doc["i64"].AsNumber(); n != float64(1<<40) {
		t.Errorf("i64 = %v", n)
	}
	nested, _ := doc["nested"].AsObject()
	list, _ := nested["list"].AsArray()
	if len(list) != 2 {
		t.Fatalf("nested.list = %v", list)
	}
}

func TestFromAny_RejectsUnsupported(t *testing.T) {
	if _, err := FromAny(struct{}{}); err == nil {
		t.Error("expected error for struct value")
	}
	if _, err := FromAny(map[any]any{1: "x"}); err == nil {
		t.Error("expected error for non-string key")
	}
}

func TestParseDocument_LargeIntegersExact(t *testing.T) {
	const big = int64(9007199254740993) // 2^53 + 1
	doc, err := ParseDocument([]byte(`{"id": 9007199254740993, "ratio": 0.25}`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if i, ok := doc["id"].AsInt(); !ok || i != big {
		t.Errorf("id = %d (%v), want %d", i, ok, big)
	}
	if _, ok := doc["ratio"].AsInt(); ok {
		t.Error("ratio must not be an integer")
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := ParseDocument(data)
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if i, _ := back["id"].AsInt(); i != big {
		t.Errorf("round trip id = %d, want %d (json %s)", i, big, data)
	}
	if !back.Equal(doc) {
		t.Errorf("round trip = %v, want %v", back, doc)
	}
}

func TestValue_IntEqualsSameFloat(t *testing.T) {
	if !Int(12).Equal(Number(12)) {
		t.Error("Int(12) should equal Number(12)")
	}
	if Int(9007199254740993).Equal(Int(9007199254740992)) {
		t.Error("distinct integers above 2^53 must differ")
	}
	if v, _ := FromAny(uint64(1 << 63)); v.Kind() != NumberValue {
		t.Errorf("uint64 above int64 range kind = %s", v.Kind())
	}
}
