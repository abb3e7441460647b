// internal/dom/dom_test.go
package dom

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<html><body>
<div id="main">
  <h1>Welcome</h1>
  <form action="/login">
    <input type="text" name="username" placeholder="Username">
    <input type="password" name="password">
    <input type="hidden" name="csrf" value="tok">
    <button type="submit">Sign in</button>
  </form>
  <a href="/forgot">Forgot password?</a>
  <script>var x = 1;</script>
</div>
</body></html>`

// The same page re-rendered with a banner injected above the form. Every
// interactable element keeps its structure but shifts to a new index.
const loginPageRerendered = `<html><body>
<div id="banner"><button class="dismiss">Dismiss</button></div>
<div id="main">
  <h1>Welcome</h1>
  <form action="/login">
    <input type="text" name="username" placeholder="Username">
    <input type="password" name="password">
    <input type="hidden" name="csrf" value="tok">
    <button type="submit">Sign in</button>
  </form>
  <a href="/forgot">Forgot password?</a>
</div>
</body></html>`

func mustBuild(t *testing.T, raw string) *State {
	t.Helper()
	state, err := BuildState(raw, "https://example.com/login")
	require.NoError(t, err)
	return state
}

func findByName(t *testing.T, state *State, name string) *ElementNode {
	t.Helper()
	for _, el := range state.SelectorMap {
		if el.Attributes["name"] == name {
			return el
		}
	}
	t.Fatalf("no indexed element with name=%q", name)
	return nil
}

func TestBuildStateAssignsIndices(t *testing.T) {
	state := mustBuild(t, loginPage)

	// username, password, submit button, forgot link. The hidden input must
	// not receive an index.
	require.Len(t, state.SelectorMap, 4)
	for _, el := range state.SelectorMap {
		assert.NotEqual(t, "hidden", el.Attributes["type"])
	}

	// Indices follow document order.
	assert.Equal(t, "input", state.SelectorMap[0].Tag)
	assert.Equal(t, "username", state.SelectorMap[0].Attributes["name"])
	assert.Equal(t, "button", state.SelectorMap[2].Tag)
	assert.Equal(t, "a", state.SelectorMap[3].Tag)
}

func TestBuildStateSkipsScriptSubtrees(t *testing.T) {
	state := mustBuild(t, loginPage)
	state.Walk(func(n *ElementNode) {
		assert.NotEqual(t, "script", n.Tag)
	})
}

func TestFingerprintStableAcrossParses(t *testing.T) {
	a := findByName(t, mustBuild(t, loginPage), "username")
	b := findByName(t, mustBuild(t, loginPage), "username")
	assert.True(t, ComputeFingerprint(a).Equal(ComputeFingerprint(b)))
}

func TestFingerprintChangesWithAttributes(t *testing.T) {
	user := findByName(t, mustBuild(t, loginPage), "username")
	pass := findByName(t, mustBuild(t, loginPage), "password")

	fpUser := ComputeFingerprint(user)
	fpPass := ComputeFingerprint(pass)
	assert.Equal(t, fpUser.BranchPathHash, fpPass.BranchPathHash,
		"same ancestor chain must hash identically")
	assert.NotEqual(t, fpUser.AttributesHash, fpPass.AttributesHash)
	assert.NotEqual(t, fpUser.PositionHash, fpPass.PositionHash)
}

func TestFindMatchAcrossRerender(t *testing.T) {
	recorded := NewHistoryElement(findByName(t, mustBuild(t, loginPage), "username"))

	fresh := mustBuild(t, loginPageRerendered)
	match, ok := FindHistoryElement(recorded, fresh)
	require.True(t, ok)
	assert.Equal(t, "username", match.Attributes["name"])

	// The index moved because of the injected banner button.
	require.NotNil(t, match.HighlightIndex)
	assert.NotEqual(t, *recorded.HighlightIndex, *match.HighlightIndex)
}

func TestFindMatchReportsAbsentElement(t *testing.T) {
	recorded := NewHistoryElement(findByName(t, mustBuild(t, loginPage), "username"))

	gone := mustBuild(t, `<html><body><p>Maintenance</p><a href="/">home</a></body></html>`)
	_, ok := FindHistoryElement(recorded, gone)
	assert.False(t, ok)
}

func TestFindMatchDisambiguatesTwins(t *testing.T) {
	twins := `<html><body><ul>
<li><button class="add">Add</button></li>
<li><button class="add">Add</button></li>
</ul></body></html>`

	state := mustBuild(t, twins)
	require.Len(t, state.SelectorMap, 2)

	second := state.SelectorMap[1]
	recorded := NewHistoryElement(second)

	match, ok := FindMatch(recorded.Fingerprint, mustBuild(t, twins).Root)
	require.True(t, ok)
	assert.Equal(t, second.XPath, match.XPath)
}

func TestFindMatchToleratesSiblingShift(t *testing.T) {
	before := `<html><body><div><button name="a">A</button><button name="go">Go</button></div></body></html>`
	after := `<html><body><div><button name="go">Go</button></div></body></html>`

	// Record the second button; in the re-render it is the only button and
	// its same-tag sibling position has changed.
	recorded := NewHistoryElement(mustBuild(t, before).SelectorMap[1])
	match, ok := FindMatch(recorded.Fingerprint, mustBuild(t, after).Root)
	require.True(t, ok, "unique branch+attribute match should survive a sibling shift")
	assert.Equal(t, "go", match.Attributes["name"])
}

func TestClickableElementsToString(t *testing.T) {
	state := mustBuild(t, loginPage)
	listing := state.ClickableElementsToString(nil)

	assert.Contains(t, listing, `[0]<input type="text" name="username" placeholder="Username"></input>`)
	assert.Contains(t, listing, `[2]<button type="submit">Sign in</button>`)
	assert.Contains(t, listing, `[3]<a href="/forgot">Forgot password?</a>`)
	assert.NotContains(t, listing, "csrf", "hidden inputs never reach the model")
}

func TestBranchPathHashes(t *testing.T) {
	state := mustBuild(t, loginPage)
	hashes := state.BranchPathHashes()
	assert.Len(t, hashes, len(state.SelectorMap))
}

func TestOwnTextTruncatesOnRuneBoundary(t *testing.T) {
	// 200 three-byte runes: the byte cap lands mid-rune unless the
	// truncation backs off to a boundary.
	long := strings.Repeat("界", 200)
	state := mustBuild(t, "<html><body><button>"+long+"</button></body></html>")

	el, ok := state.SelectorMap[0]
	require.True(t, ok)
	assert.LessOrEqual(t, len(el.Text), maxOwnTextLength)
	assert.True(t, utf8.ValidString(el.Text), "capped element text must stay valid UTF-8")
}

func TestBuildStateRejectsEmptyDocument(t *testing.T) {
	// html.Parse normalizes almost anything into a document, so only a
	// truly element-free tree fails.
	_, err := BuildState("", "https://example.com")
	assert.NoError(t, err) // parser synthesizes <html><head><body>
}
