package dcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOffer(t *testing.T) {
	tests := []struct {
		name         string
		line         string
		wantNil      bool
		wantFilename string
		wantAddr     string
		wantPort     int
		wantSize     int64
	}{
		{
			name:         "plain filename",
			line:         "\x01DCC SEND book.epub 3232235777 2000 524288\x01",
			wantFilename: "book.epub",
			wantAddr:     "192.168.1.1",
			wantPort:     2000,
			wantSize:     524288,
		},
		{
			name:         "quoted filename with spaces",
			line:         `DCC SEND "F Scott Fitzgerald - The Great Gatsby.epub" 2130706433 4000 340736`,
			wantFilename: "F Scott Fitzgerald - The Great Gatsby.epub",
			wantAddr:     "127.0.0.1",
			wantPort:     4000,
			wantSize:     340736,
		},
		{
			name:         "full privmsg line",
			line:         ":peer!x@host PRIVMSG someone :\x01DCC SEND results.zip 16909060 1024 9000\x01",
			wantFilename: "results.zip",
			wantAddr:     "1.2.3.4",
			wantPort:     1024,
			wantSize:     9000,
		},
		{
			name:    "missing fields",
			line:    "DCC SEND book.epub 3232235777",
			wantNil: true,
		},
		{
			name:    "not an offer at all",
			line:    "hello there",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offer := ParseOffer(tt.line)
			if tt.wantNil {
				assert.Nil(t, offer)
				return
			}
			if assert.NotNil(t, offer) {
				assert.Equal(t, tt.wantFilename, offer.Filename)
				assert.Equal(t, tt.wantAddr, offer.PeerAddr)
				assert.Equal(t, tt.wantPort, offer.PeerPort)
				assert.Equal(t, tt.wantSize, offer.Size)
			}
		})
	}
}

func TestIsOfferLine(t *testing.T) {
	assert.True(t, IsOfferLine("\x01DCC SEND book.epub 3232235777 2000 524288\x01"))
	assert.False(t, IsOfferLine("!Ook F Scott Fitzgerald - The Great Gatsby.epub"))
	assert.False(t, IsOfferLine("DCC SEND incomplete"))
}

func TestIntToAddr(t *testing.T) {
	assert.Equal(t, "192.168.1.1", IntToAddr(3232235777))
	assert.Equal(t, "127.0.0.1", IntToAddr(2130706433))
	assert.Equal(t, "0.0.0.0", IntToAddr(0))
	assert.Equal(t, "255.255.255.255", IntToAddr(4294967295))
}

func TestAddrRoundTrip(t *testing.T) {
	for _, addr := range []string{"10.0.0.1", "192.168.1.1", "8.8.8.8"} {
		assert.Equal(t, addr, IntToAddr(AddrToInt(addr)))
	}
}
