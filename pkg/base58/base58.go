// Package base58 implements the Bitcoin/Solana base58 encoding used for
// session wallet public keys and on-chain style addresses.
//
// The alphabet omits 0, O, I, and l to keep keys unambiguous when read
// or typed by humans.
package base58

import (
	"fmt"
	"math/big"
)

// Alphabet is the 58-character alphabet shared by Bitcoin and Solana.
const Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var (
	bigRadix = big.NewInt(58)
	bigZero  = big.NewInt(0)

	// decodeMap[c] is the digit value of byte c, or -1 if c is not in
	// the alphabet.
	decodeMap [256]int8
)

func init() {
	for i := range decodeMap {
		decodeMap[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		decodeMap[Alphabet[i]] = int8(i)
	}
}

// CorruptInputError is returned by Decode when the input contains a
// character outside the base58 alphabet.
type CorruptInputError struct {
	Char byte
	Pos  int
}

func (e *CorruptInputError) Error() string {
	return fmt.Sprintf("base58: invalid character %q at position %d", e.Char, e.Pos)
}

// Encode encodes b as a base58 string. Leading zero bytes become leading
// '1' characters, so the encoding is bijective: Decode(Encode(b)) == b
// for every byte string, including the empty and all-zero cases.
func Encode(b []byte) string {
	zeros := 0
	for zeros < len(b) && b[zeros] == 0 {
		zeros++
	}

	num := new(big.Int).SetBytes(b)
	mod := new(big.Int)

	// Worst case expansion is ~138% plus the leading-zero prefix.
	out := make([]byte, 0, zeros+len(b)*138/100+1)
	for num.Cmp(bigZero) > 0 {
		num.DivMod(num, bigRadix, mod)
		out = append(out, Alphabet[mod.Int64()])
	}
	for i := 0; i < zeros; i++ {
		out = append(out, Alphabet[0])
	}

	// Digits were produced least significant first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// Decode decodes a base58 string back into bytes. It returns a
// *CorruptInputError if s contains a character outside the alphabet.
func Decode(s string) ([]byte, error) {
	zeros := 0
	for zeros < len(s) && s[zeros] == Alphabet[0] {
		zeros++
	}

	num := new(big.Int)
	for i := 0; i < len(s); i++ {
		d := decodeMap[s[i]]
		if d < 0 {
			return nil, &CorruptInputError{Char: s[i], Pos: i}
		}
		num.Mul(num, bigRadix)
		num.Add(num, big.NewInt(int64(d)))
	}

	body := num.Bytes()
	out := make([]byte, zeros+len(body))
	copy(out[zeros:], body)
	return out, nil
}
