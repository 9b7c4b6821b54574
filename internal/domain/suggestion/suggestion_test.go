package suggestion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/tastedeck/internal/domain/listening"
)

func TestSplitSong(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantTitle  string
		wantArtist string
		wantOK     bool
	}{
		{name: "simple", line: "Blue - Joe", wantTitle: "Blue", wantArtist: "Joe", wantOK: true},
		{name: "extra whitespace", line: "  Blue   Moon  -  Joe  Band ", wantTitle: "Blue Moon", wantArtist: "Joe Band", wantOK: true},
		{name: "hyphenated artist", line: "Dirt Off Your Shoulder - Jay-Z", wantTitle: "Dirt Off Your Shoulder", wantArtist: "Jay-Z", wantOK: true},
		{name: "no separator", line: "malformed line", wantOK: false},
		{name: "bare hyphen is not a separator", line: "Blue-Joe", wantOK: false},
		{name: "by is not a separator", line: "Blue by Joe", wantOK: false},
		{name: "two separators", line: "Blue - Live - Joe", wantOK: false},
		{name: "empty title", line: " - Joe", wantOK: false},
		{name: "empty artist", line: "Blue - ", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, artist, ok := SplitSong(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantArtist, artist)
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "song a", Normalize("  Song   A "))
	assert.Equal(t, "artist x", Normalize("ARTIST\tX"))
	assert.Equal(t, SongKey("Song A", "Artist X"), SongKey(" song a ", "artist  x"))
}

func TestCandidate_String(t *testing.T) {
	assert.Equal(t, "Blue - Joe", Candidate{Title: "Blue", Artist: "Joe"}.String())
	assert.Equal(t, "Joe Band", Candidate{Artist: "Joe Band"}.String())
}

func TestSet_Clone(t *testing.T) {
	img := "https://i.scdn.co/image/blue"
	orig := Set{
		Songs: []Suggestion{
			{Kind: KindSong, ID: "t1", Title: "Blue", Artist: "Joe", Artists: []string{"Joe"}, ImageURL: &img},
		},
		Artists: []Suggestion{{Kind: KindArtist, ID: "a1", Artist: "Joe Band"}},
	}

	cp := orig.Clone()
	assert.Equal(t, orig, cp)

	cp.Songs[0].Artists[0] = "Changed"
	*cp.Songs[0].ImageURL = "changed"
	cp.Artists[0].Artist = "Changed"

	assert.Equal(t, "Joe", orig.Songs[0].Artists[0])
	assert.Equal(t, "https://i.scdn.co/image/blue", *orig.Songs[0].ImageURL)
	assert.Equal(t, "Joe Band", orig.Artists[0].Artist)
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "user1:medium:10", Key{Scope: "user1", Window: listening.WindowMedium, Count: 10}.String())
	assert.Equal(t, "-:recent:5", Key{Window: listening.WindowRecent, Count: 5}.String())
}
