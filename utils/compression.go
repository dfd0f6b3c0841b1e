package utils

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Chunk text below this size is stored uncompressed; the brotli header
// overhead outweighs the savings.
const compressionThreshold = 500

// CompressText compresses chunk text for storage. Returns nil when the
// text is too small to be worth compressing.
func CompressText(text string) ([]byte, error) {
	if len(text) < compressionThreshold {
		return nil, nil
	}

	var buf bytes.Buffer
	writer := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := writer.Write([]byte(text)); err != nil {
		return nil, fmt.Errorf("failed to write to brotli writer: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close brotli writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressText restores chunk text compressed by CompressText.
func DecompressText(compressed []byte) (string, error) {
	if len(compressed) == 0 {
		return "", nil
	}

	reader := brotli.NewReader(bytes.NewReader(compressed))
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read from brotli reader: %w", err)
	}
	return string(data), nil
}
