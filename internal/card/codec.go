package card

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/vmihailenco/msgpack/v5"
)

// tokenFields is the number of fields in a token, in fixed order:
// name, occasion, lyrics, audioUrl, melodyText.
const tokenFields = 5

// maxPayload bounds the decompressed size of a token.
const maxPayload = 1 << 20

type wireCard struct {
	_msgpack struct{} `msgpack:",as_array"`

	Name       string
	Occasion   string
	Lyrics     string
	AudioURL   string
	MelodyText string
}

// Encode serializes c to a URL-safe token: a MessagePack array of the five
// fields, raw DEFLATE compressed, base64url without padding.
func Encode(c Card) (string, error) {
	raw, err := msgpack.Marshal(&wireCard{
		Name:       c.Name,
		Occasion:   c.Occasion,
		Lyrics:     c.Lyrics,
		AudioURL:   c.AudioURL,
		MelodyText: c.MelodyText,
	})
	if err != nil {
		return "", fmt.Errorf("encode card: %w", err)
	}

	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("encode card: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("encode card: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("encode card: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. Any malformed, truncated or trailing input yields
// an error wrapping ErrDecode and a zero Card.
func Decode(token string) (Card, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Card{}, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}

	zr := flate.NewReader(bytes.NewReader(compressed))
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, maxPayload+1))
	if err != nil {
		return Card{}, fmt.Errorf("%w: inflate: %v", ErrDecode, err)
	}
	if len(raw) > maxPayload {
		return Card{}, fmt.Errorf("%w: payload exceeds %d bytes", ErrDecode, maxPayload)
	}

	r := bytes.NewReader(raw)
	dec := msgpack.NewDecoder(r)
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Card{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if n != tokenFields {
		return Card{}, fmt.Errorf("%w: %d fields, want %d", ErrDecode, n, tokenFields)
	}
	var fields [tokenFields]string
	for i := range fields {
		if fields[i], err = dec.DecodeString(); err != nil {
			return Card{}, fmt.Errorf("%w: field %d: %v", ErrDecode, i, err)
		}
	}
	if r.Len() != 0 {
		return Card{}, fmt.Errorf("%w: %d trailing bytes", ErrDecode, r.Len())
	}

	return Card{
		Name:       fields[0],
		Occasion:   fields[1],
		Lyrics:     fields[2],
		AudioURL:   fields[3],
		MelodyText: fields[4],
	}, nil
}
