package ipc

import "errors"

// cobsEncode applies Consistent Overhead Byte Stuffing: the result never
// contains 0x00 and grows by at most one byte per 254 input bytes plus one.
func cobsEncode(src []byte) []byte {
	dst := make([]byte, 1, len(src)+len(src)/254+2)
	codeIdx := 0
	code := byte(1)

	for _, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		if code == 0xff {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}
	dst[codeIdx] = code
	return dst
}

var errCobsZero = errors.New("cobs: unexpected zero byte")
var errCobsTruncated = errors.New("cobs: truncated block")

// cobsDecode reverses cobsEncode
func cobsDecode(src []byte) ([]byte, error) {
	dst := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		code := src[i]
		if code == 0 {
			return nil, errCobsZero
		}
		i++
		end := i + int(code) - 1
		if end > len(src) {
			return nil, errCobsTruncated
		}
		for _, b := range src[i:end] {
			if b == 0 {
				return nil, errCobsZero
			}
		}
		dst = append(dst, src[i:end]...)
		i = end
		if code != 0xff && i < len(src) {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}
