package macro

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
}

func TestRenderer_RecipientDataWins(t *testing.T) {
	r := NewRenderer(RendererOptions{Seed: 1})
	out := r.Render("Hi @name@, your code is @DIGITS:4@", map[string]string{"name": "Ada"})
	assert.Regexp(t, regexp.MustCompile(`^Hi Ada, your code is [0-9]{4}$`), out)
}

func TestRenderer_DataShadowsBuiltin(t *testing.T) {
	r := NewRenderer(RendererOptions{Seed: 1})
	out := r.Render("@DATE@", map[string]string{"DATE": "someday"})
	assert.Equal(t, "someday", out)
}

func TestRenderer_CaseInsensitiveDataLookup(t *testing.T) {
	r := NewRenderer(RendererOptions{Seed: 1})
	out := r.Render("Hi @Name@", map[string]string{"name": "Ada"})
	assert.Equal(t, "Hi Ada", out)
}

func TestRenderer_UnknownTokenLeftAlone(t *testing.T) {
	r := NewRenderer(RendererOptions{Seed: 1})
	out := r.Render("Hello @nope@", nil)
	assert.Equal(t, "Hello @nope@", out)
}

func TestRenderer_DateAndTime(t *testing.T) {
	r := NewRenderer(RendererOptions{Seed: 1, Now: fixedClock})
	assert.Equal(t, "2026-08-25", r.Render("@DATE@", nil))
	assert.Equal(t, "14:30", r.Render("@TIME@", nil))
}

func TestRenderer_RefFormat(t *testing.T) {
	r := NewRenderer(RendererOptions{Seed: 1})
	out := r.Render("@REF@", nil)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z]{3}-[0-9]{6}$`), out)
}

func TestRenderer_DeterministicForSeed(t *testing.T) {
	a := NewRenderer(RendererOptions{Seed: 42})
	b := NewRenderer(RendererOptions{Seed: 42})
	template := "@DIGITS:8@ @ALNUM@ @LETTERS:3@"
	require.Equal(t, a.Render(template, nil), b.Render(template, nil))
}

func TestRenderer_TicketFormat(t *testing.T) {
	r := NewRenderer(RendererOptions{Seed: 1})
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{8}$`), r.Render("@TICKET@", nil))
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{5}$`), r.Render("@TICKET:5@", nil))
}

func TestRenderer_NamesFromFixedPools(t *testing.T) {
	r := NewRenderer(RendererOptions{Seed: 3})
	first := r.Render("@FIRST@", nil)
	last := r.Render("@LAST@", nil)
	assert.Contains(t, firstNames, first)
	assert.Contains(t, lastNames, last)
}

func TestRenderer_YearMonthDay(t *testing.T) {
	r := NewRenderer(RendererOptions{Seed: 1, Now: fixedClock})
	assert.Equal(t, "2026", r.Render("@YEAR@", nil))
	assert.Equal(t, "08", r.Render("@MONTH@", nil))
	assert.Equal(t, "25", r.Render("@DAY@", nil))
}

func TestRenderer_GreetingTemplateFullyExpands(t *testing.T) {
	a := NewRenderer(RendererOptions{Seed: 11})
	b := NewRenderer(RendererOptions{Seed: 11})
	template := "Hi @FIRST@, ref @REF@"

	out := a.Render(template, nil)
	require.Equal(t, out, b.Render(template, nil), "same seed must render identically")
	assert.False(t, tokenRe.MatchString(out), "no placeholder may survive rendering: %s", out)
	assert.Regexp(t, regexp.MustCompile(`^Hi [A-Za-z]+, ref [A-Z]{3}-[0-9]{6}$`), out)
}

func TestRenderer_BadArgFallsBackToDefault(t *testing.T) {
	r := NewRenderer(RendererOptions{Seed: 7})
	out := r.Render("@DIGITS:0@", nil)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), out)
}
