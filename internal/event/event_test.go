package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeIDDeterminism(t *testing.T) {
	e := &Event{
		Author:        "ab12",
		Kind:          30001,
		Discriminator: "product-1",
		CreatedAt:     100,
		Tags:          []Tag{{"ref", "customer-9"}},
		Content:       `{"name":"Coffee","price":25000}`,
	}

	id1, err := ComputeID(e)
	require.NoError(t, err)

	id2, err := ComputeID(e)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "ComputeID must be deterministic")
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestComputeIDChangesWithInput(t *testing.T) {
	base := Event{
		Author:        "ab12",
		Kind:          30001,
		Discriminator: "product-1",
		CreatedAt:     100,
		Content:       "{}",
	}

	variants := map[string]Event{
		"author":        base,
		"kind":          base,
		"discriminator": base,
		"created_at":    base,
		"content":       base,
		"tags":          base,
	}
	v := variants["author"]
	v.Author = "cd34"
	variants["author"] = v
	v = variants["kind"]
	v.Kind = 30002
	variants["kind"] = v
	v = variants["discriminator"]
	v.Discriminator = "product-2"
	variants["discriminator"] = v
	v = variants["created_at"]
	v.CreatedAt = 101
	variants["created_at"] = v
	v = variants["content"]
	v.Content = `{"x":1}`
	variants["content"] = v
	v = variants["tags"]
	v.Tags = []Tag{{"ref", "a"}}
	variants["tags"] = v

	baseID := MustComputeID(&base)
	for field, ev := range variants {
		assert.NotEqual(t, baseID, MustComputeID(&ev),
			"changing %s should change the ID", field)
	}
}

func TestComputeIDIgnoresIDAndSig(t *testing.T) {
	e := Event{Author: "ab12", Kind: 1, CreatedAt: 100, Content: "{}"}
	id1 := MustComputeID(&e)

	e.ID = "something"
	e.Sig = "something-else"
	id2 := MustComputeID(&e)

	assert.Equal(t, id1, id2, "ID and Sig must not feed the hash")
}

func TestCanonicalFormNoHTMLEscaping(t *testing.T) {
	e := Event{Author: "ab12", Kind: 1, CreatedAt: 100, Content: `<a href="x">&</a>`}
	canonical, err := canonicalForm(&e)
	require.NoError(t, err)
	assert.Contains(t, string(canonical), `<a href=\"x\">&</a>`,
		"HTML characters must not be escaped in canonical form")
}

func TestSignAndVerify(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	e := &Event{
		Kind:          30001,
		Discriminator: "product-1",
		CreatedAt:     100,
		Content:       `{"name":"Coffee"}`,
	}
	require.NoError(t, Sign(e, kp))

	assert.Equal(t, kp.AuthorID(), e.Author)
	assert.NotEmpty(t, e.ID)
	assert.NotEmpty(t, e.Sig)
	assert.NoError(t, Validate(e))
}

func TestVerifyRejectsTamperedContent(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	e := &Event{Kind: 1, CreatedAt: 100, Content: "original"}
	require.NoError(t, Sign(e, kp))

	e.Content = "tampered"
	err = Validate(e)
	require.Error(t, err)
	assert.True(t, IsValidationError(err), "content tamper shows up as ID mismatch")
}

func TestVerifyRejectsForgedSignature(t *testing.T) {
	kp1, err := NewKeyPair()
	require.NoError(t, err)
	kp2, err := NewKeyPair()
	require.NoError(t, err)

	e := &Event{Kind: 1, CreatedAt: 100, Content: "payload"}
	require.NoError(t, Sign(e, kp1))

	// Claim a different author without re-signing. The ID must be
	// recomputed so the failure is attributed to the signature, not
	// the hash.
	e.Author = kp2.AuthorID()
	e.ID = MustComputeID(e)

	err = Validate(e)
	require.Error(t, err)
	assert.True(t, IsSignatureError(err))
}

func TestValidateRejectsShape(t *testing.T) {
	cases := []struct {
		name string
		ev   *Event
	}{
		{"nil", nil},
		{"missing author", &Event{Kind: 1, CreatedAt: 100, ID: "x"}},
		{"negative kind", &Event{Author: "ab", Kind: -1, CreatedAt: 100, ID: "x"}},
		{"zero created_at", &Event{Author: "ab", Kind: 1, ID: "x"}},
		{"missing id", &Event{Author: "ab", Kind: 1, CreatedAt: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.ev)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestParsePrivateKeyRoundTrip(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	restored, err := ParsePrivateKey(kp.Seed())
	require.NoError(t, err)
	assert.Equal(t, kp.AuthorID(), restored.AuthorID())
}

func TestSupersedesTotalOrder(t *testing.T) {
	a := &Event{ID: "a", CreatedAt: 100}
	b := &Event{ID: "b", CreatedAt: 100}
	older := &Event{ID: "z", CreatedAt: 99}
	newer := &Event{ID: "0", CreatedAt: 101}

	assert.True(t, b.Supersedes(a), "equal timestamps break ties by greater ID")
	assert.False(t, a.Supersedes(b))
	assert.True(t, a.Supersedes(older), "greater created_at wins regardless of ID")
	assert.True(t, newer.Supersedes(a))
	assert.False(t, older.Supersedes(a))
}

func TestKindRanges(t *testing.T) {
	ranges := DefaultRanges()

	assert.Equal(t, ClassRegular, ranges.ClassOf(1))
	assert.Equal(t, ClassEphemeral, ranges.ClassOf(20000))
	assert.Equal(t, ClassEphemeral, ranges.ClassOf(29999))
	assert.Equal(t, ClassReplaceable, ranges.ClassOf(30000))
	assert.Equal(t, ClassReplaceable, ranges.ClassOf(39999))
	assert.Equal(t, ClassRegular, ranges.ClassOf(40000))
}

func TestTagHelpers(t *testing.T) {
	e := Event{Tags: []Tag{{"order", "o1"}, {"order", "o2"}, {"table", "t5"}}}

	v, ok := e.TagValue("table")
	require.True(t, ok)
	assert.Equal(t, "t5", v)

	_, ok = e.TagValue("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"o1", "o2"}, e.TagValues("order"))
}
