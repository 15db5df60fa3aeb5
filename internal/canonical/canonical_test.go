package canonical

import "testing"

const base = "https://canvas.example.edu"

func TestCanonicalizeRelative(t *testing.T) {
	got, err := Canonicalize("/courses/101/files", base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := base + "/courses/101/files"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCanonicalizeKeepsOnlyPageParam(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "drops noise params",
			raw:  "/courses/101/files?sort=name&order=asc",
			want: base + "/courses/101/files",
		},
		{
			name: "keeps page",
			raw:  "/courses/101/files?sort=name&page=3",
			want: base + "/courses/101/files?page=3",
		},
		{
			name: "page key is case insensitive",
			raw:  "/courses/101/files?Page=3",
			want: base + "/courses/101/files?Page=3",
		},
		{
			name: "strips trailing slash",
			raw:  "/courses/101/files/",
			want: base + "/courses/101/files",
		},
		{
			name: "drops fragment",
			raw:  "/courses/101/files#section",
			want: base + "/courses/101/files",
		},
		{
			name: "decodes html entities",
			raw:  "/courses/101/files?page=2&amp;sort=name",
			want: base + "/courses/101/files?page=2",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize(tc.raw, base)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"/courses/101/files?sort=name&page=2#top",
		"/courses/101/files/folder/Week%201/",
		base + "/courses/7/files?PAGE=9",
	}
	for _, raw := range inputs {
		once, err := Canonicalize(raw, base)
		if err != nil {
			t.Fatalf("first pass %q: %v", raw, err)
		}
		twice, err := Canonicalize(once, base)
		if err != nil {
			t.Fatalf("second pass %q: %v", once, err)
		}
		if once != twice {
			t.Fatalf("not idempotent for %q: %q != %q", raw, once, twice)
		}
	}
}

func TestEnsureDownload(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{base + "/courses/101/files/555", base + "/courses/101/files/555/download"},
		{base + "/courses/101/files/555/download", base + "/courses/101/files/555/download"},
		{base + "/courses/101/files/555?wrap=1", base + "/courses/101/files/555/download"},
		{base + "/files/555", base + "/files/555/download"},
		{base + "/courses/101/modules", base + "/courses/101/modules"},
	}
	for _, tc := range cases {
		if got := EnsureDownload(tc.raw, base); got != tc.want {
			t.Fatalf("EnsureDownload(%q): expected %q, got %q", tc.raw, tc.want, got)
		}
	}
}

func TestEnsureDownloadDedupesVariants(t *testing.T) {
	variants := []string{
		base + "/courses/101/files/555",
		base + "/courses/101/files/555/download",
		base + "/courses/101/files/555?module_item_id=9",
	}
	seen := make(map[string]struct{})
	for _, v := range variants {
		seen[EnsureDownload(v, base)] = struct{}{}
	}
	if len(seen) != 1 {
		t.Fatalf("expected all variants to collapse to one target, got %d: %v", len(seen), seen)
	}
}

func TestFileIdentity(t *testing.T) {
	courseID, fileID, ok := FileIdentity(base + "/courses/101/files/555?wrap=1")
	if !ok || courseID != "101" || fileID != "555" {
		t.Fatalf("expected (101, 555, true), got (%s, %s, %v)", courseID, fileID, ok)
	}
	if _, _, ok := FileIdentity(base + "/files/555/download"); ok {
		t.Fatal("bare file URL should not carry a course identity")
	}
	if _, _, ok := FileIdentity(base + "/courses/101/modules"); ok {
		t.Fatal("non-file URL should not carry an identity")
	}
}
