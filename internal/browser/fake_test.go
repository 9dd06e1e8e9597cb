package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeLifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.AddPage("https://example.com", `<html><body><button id="go">Go</button></body></html>`)

	assert.False(t, f.Active())
	_, err := f.Content(ctx)
	assert.ErrorIs(t, err, ErrNoActivePage)

	require.NoError(t, f.Navigate(ctx, "https://example.com"))
	assert.True(t, f.Active())

	url, err := f.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", url)

	html, err := f.Content(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "button")

	require.NoError(t, f.Reset(ctx))
	assert.False(t, f.Active())
	url, err = f.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Empty(t, url)
}

func TestFakeNavigateUnknownURLTimesOut(t *testing.T) {
	f := NewFake()
	err := f.Navigate(context.Background(), "https://nowhere.invalid")

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "navigate", timeout.Op)
}

func TestFakeClickAndFocusedType(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.AddPage("https://example.com", `<html><input id="search"></html>`)
	require.NoError(t, f.Navigate(ctx, "https://example.com"))

	// Typing with no focus fails.
	err := f.Type(ctx, "", "hello")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, ":focus", notFound.Selector)

	// Click focuses, then focused typing works.
	require.NoError(t, f.Click(ctx, "#search"))
	require.NoError(t, f.Type(ctx, "", "hello"))

	assert.Equal(t, []string{
		"navigate https://example.com",
		"click #search",
		`type #search "hello"`,
	}, f.Journal)
}

func TestFakeSelectorMatching(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.AddPage("https://example.com", `<html><div class="result">x</div></html>`)
	require.NoError(t, f.Navigate(ctx, "https://example.com"))

	assert.NoError(t, f.WaitForSelector(ctx, ".result", time.Second), "selector inferred from markup")

	err := f.WaitForSelector(ctx, "#missing", time.Second)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)

	f.AddSelector("#missing")
	assert.NoError(t, f.WaitForSelector(ctx, "#missing", time.Second))
}

func TestFakeNavigateErrInjection(t *testing.T) {
	f := NewFake()
	f.AddPage("https://example.com", "<html></html>")
	boom := errors.New("boom")
	f.NavigateErr = boom

	assert.ErrorIs(t, f.Navigate(context.Background(), "https://example.com"), boom)
	// Injected error is one-shot.
	assert.NoError(t, f.Navigate(context.Background(), "https://example.com"))
}

func TestFakeReadsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.AddPage("https://example.com", "<html><body>stable</body></html>")
	require.NoError(t, f.Navigate(ctx, "https://example.com"))

	url1, err := f.CurrentURL(ctx)
	require.NoError(t, err)
	url2, err := f.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, url1, url2)

	shot1, err := f.Screenshot(ctx)
	require.NoError(t, err)
	shot2, err := f.Screenshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, shot1, shot2)

	content1, err := f.Content(ctx)
	require.NoError(t, err)
	content2, err := f.Content(ctx)
	require.NoError(t, err)
	assert.Equal(t, content1, content2)
}
