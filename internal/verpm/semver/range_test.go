package semver

import "testing"

func TestCompressRightInverse(t *testing.T) {
	pool := []Version{
		MustParse("1.0.0"), MustParse("1.1.0"), MustParse("1.2.0"),
		MustParse("2.0.0"), MustParse("2.1.0"), MustParse("3.0.0"),
	}
	subset := []Version{
		MustParse("1.1.0"), MustParse("1.2.0"), MustParse("2.1.0"),
	}

	spec := Compress(pool, subset)

	want := map[string]bool{}
	for _, v := range subset {
		want[v.String()] = true
	}

	for _, v := range pool {
		got := spec.Contains(v)
		if got != want[v.String()] {
			t.Errorf("Contains(%s) = %v, want %v", v, got, want[v.String()])
		}
	}
}

func TestCompressCanonicalMinimalRanges(t *testing.T) {
	pool := []Version{
		MustParse("1.0.0"), MustParse("1.1.0"), MustParse("1.2.0"), MustParse("1.3.0"),
	}
	// Two different subsets that pick the identical members must produce
	// identical canonical range lists.
	s1 := Compress(pool, []Version{pool[1], pool[2]})
	s2 := Compress(pool, []Version{MustParse("1.1.0"), MustParse("1.2.0")})

	if len(s1.Ranges()) != 1 {
		t.Fatalf("expected a single merged range, got %d", len(s1.Ranges()))
	}
	if s1.String() != s2.String() {
		t.Errorf("compress not canonical: %s != %s", s1, s2)
	}
}

func TestParseSpecCaretZeroMajorRelaxation(t *testing.T) {
	spec, err := ParseSpec("^0.2.3")
	if err != nil {
		t.Fatal(err)
	}
	if !spec.Contains(MustParse("0.2.9")) {
		t.Error("expected 0.2.9 to satisfy ^0.2.3")
	}
	if spec.Contains(MustParse("0.3.0")) {
		t.Error("expected 0.3.0 to violate ^0.2.3 under the relaxed rule")
	}
	if spec.Contains(MustParse("0.1.9")) {
		t.Error("expected 0.1.9 to violate ^0.2.3")
	}
}

func TestParseSpecCaretStrictZero(t *testing.T) {
	spec, err := ParseSpec("^0.0.3")
	if err != nil {
		t.Fatal(err)
	}
	if !spec.Contains(MustParse("0.0.3")) {
		t.Error("expected 0.0.3 to satisfy ^0.0.3")
	}
	if spec.Contains(MustParse("0.0.4")) {
		t.Error("^0.0.3 must not allow patch bumps")
	}
}

func TestParseSpecTilde(t *testing.T) {
	spec, err := ParseSpec("~1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	if !spec.Contains(MustParse("1.2.9")) {
		t.Error("expected 1.2.9 to satisfy ~1.2.3")
	}
	if spec.Contains(MustParse("1.3.0")) {
		t.Error("~1.2.3 must not allow a minor bump")
	}
}

func TestParseSpecUnion(t *testing.T) {
	spec, err := ParseSpec("=1.0.0, =2.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if !spec.Contains(MustParse("1.0.0")) || !spec.Contains(MustParse("2.0.0")) {
		t.Error("union spec should contain both exact versions")
	}
	if spec.Contains(MustParse("1.5.0")) {
		t.Error("union of two exact specs should not contain versions strictly between")
	}
}

func TestIntersectEmpty(t *testing.T) {
	a, _ := ParseSpec("^1.0.0")
	b, _ := ParseSpec("^2.0.0")
	if !a.Intersect(b).IsEmpty() {
		t.Error("disjoint caret ranges should intersect to empty")
	}
}
