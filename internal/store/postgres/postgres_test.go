package postgres

import "testing"

func TestIncTargetTopLevelField(t *testing.T) {
	path, docExpr := incTarget("message_count")
	if path != "{message_count}" {
		t.Errorf("unexpected path: %q", path)
	}
	if docExpr != "doc" {
		t.Errorf("a top-level increment needs no ancestor seeding, got %q", docExpr)
	}
}

func TestIncTargetNestedFieldSeedsParent(t *testing.T) {
	path, docExpr := incTarget("web_search_usage.counter")
	if path != "{web_search_usage,counter}" {
		t.Errorf("unexpected path: %q", path)
	}
	want := `jsonb_set(doc, '{web_search_usage}', COALESCE(doc #> '{web_search_usage}', '{}'::jsonb), true)`
	if docExpr != want {
		t.Errorf("missing parent object must be seeded before the increment:\nwant %q\ngot  %q", want, docExpr)
	}
}

func TestIncTargetDeeplyNestedFieldSeedsEveryAncestor(t *testing.T) {
	_, docExpr := incTarget("a.b.c")
	want := `jsonb_set(jsonb_set(doc, '{a}', COALESCE(doc #> '{a}', '{}'::jsonb), true), '{a,b}', COALESCE(doc #> '{a,b}', '{}'::jsonb), true)`
	if docExpr != want {
		t.Errorf("every ancestor must be seeded in order:\nwant %q\ngot  %q", want, docExpr)
	}
}
