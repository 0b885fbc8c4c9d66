// SPDX-License-Identifier: MIT

package radio

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPlaylist(t *testing.T) {
	assert.True(t, IsPlaylist("https://up.example/play", "application/vnd.apple.mpegurl"))
	assert.True(t, IsPlaylist("https://up.example/play", "audio/x-scpls"))
	assert.True(t, IsPlaylist("https://up.example/play.m3u8", "application/octet-stream"))
	assert.True(t, IsPlaylist("https://up.example/play.m3u", ""))
	assert.True(t, IsPlaylist("https://up.example/play.pls", ""))
	assert.False(t, IsPlaylist("https://up.example/stream.aac", "audio/aac"))
}

func TestRewritePlaylistAbsolute(t *testing.T) {
	playlist := "#EXTM3U\n#EXTINF:10,\nhttps://up.example/seg1.aac\n"
	csrf := CSRFParams{Token: "tok", Proof: "proof"}

	rewritten := RewritePlaylist("https://up.example/play.m3u8", playlist, csrf, "stream/segment")
	lines := strings.Split(rewritten, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t,
		"stream/segment?source=https%3A%2F%2Fup.example%2Fseg1.aac&csrfToken=tok&csrfProof=proof",
		lines[2])
}

func TestRewritePlaylistResolvesRelative(t *testing.T) {
	playlist := "#EXTM3U\nchunk_01.ts"
	rewritten := RewritePlaylist("https://up.example/live/play.m3u8", playlist, CSRFParams{}, "segment")
	lines := strings.Split(rewritten, "\n")
	assert.Equal(t, "segment?source="+
		"https%3A%2F%2Fup.example%2Flive%2Fchunk_01.ts", lines[1])
}

func TestRewritePlaylistUpgradesHTTP(t *testing.T) {
	playlist := "http://up.example/seg1.aac"
	rewritten := RewritePlaylist("https://up.example/play.m3u8", playlist, CSRFParams{}, "segment")
	assert.Contains(t, rewritten, "source=https%3A%2F%2Fup.example%2Fseg1.aac")
}

func TestRewritePlaylistDropsNonHTTPS(t *testing.T) {
	playlist := "ftp://up.example/seg1.aac"
	rewritten := RewritePlaylist("https://up.example/play.m3u8", playlist, CSRFParams{}, "segment")
	assert.Equal(t, "# dropped http stream", rewritten)
}

func TestRewritePlaylistKeepsComments(t *testing.T) {
	playlist := "#EXT-X-VERSION:3\n\n# comment"
	rewritten := RewritePlaylist("https://up.example/play.m3u8", playlist, CSRFParams{}, "segment")
	assert.Equal(t, playlist, rewritten)
}

func TestCheckSegmentOrigin(t *testing.T) {
	target, err := parseSegmentSource("https%3A%2F%2Fup.example%2Fseg1.aac")
	require.NoError(t, err)

	assert.NoError(t, checkSegmentOrigin("https://up.example/play.m3u8", target))
	assert.Error(t, checkSegmentOrigin("https://other.example/play.m3u8", target))

	insecure, err := parseSegmentSource("http%3A%2F%2Fup.example%2Fseg1.aac")
	require.NoError(t, err)
	assert.Error(t, checkSegmentOrigin("https://up.example/play.m3u8", insecure))
}
