package tictactoe

import (
	"strconv"
)

// Positions are 1-based; position p lives in Board[p-1]. Layout:
//
//	1 | 2 | 3
//	4 | 5 | 6
//	7 | 8 | 9
type Board [9]Sign

const (
	MinPosition = 1
	MaxPosition = 9
)

var winLines = [8][3]int{
	{1, 2, 3}, {4, 5, 6}, {7, 8, 9},
	{1, 4, 7}, {2, 5, 8}, {3, 6, 9},
	{1, 5, 9}, {3, 5, 7},
}

// ValidPosition reports whether p addresses a cell.
func ValidPosition(p int) bool { return p >= MinPosition && p <= MaxPosition }

func (b Board) At(p int) Sign {
	if !ValidPosition(p) {
		return Empty
	}
	return b[p-1]
}

func (b *Board) Set(p int, s Sign) {
	if ValidPosition(p) {
		b[p-1] = s
	}
}

// CheckWin reports whether s occupies a full row, column or diagonal.
func (b Board) CheckWin(s Sign) bool {
	if s == Empty {
		return false
	}
	for _, line := range winLines {
		if b.At(line[0]) == s && b.At(line[1]) == s && b.At(line[2]) == s {
			return true
		}
	}
	return false
}

// WinningLine returns the first completed line, if any.
func (b Board) WinningLine() ([3]int, bool) {
	for _, line := range winLines {
		s := b.At(line[0])
		if s != Empty && b.At(line[1]) == s && b.At(line[2]) == s {
			return line, true
		}
	}
	return [3]int{}, false
}

// IsDraw reports whether no cell is empty. Callers check for a win first.
func (b Board) IsDraw() bool {
	for _, s := range b {
		if s == Empty {
			return false
		}
	}
	return true
}

// EmptyPositions lists free cells in ascending order.
func (b Board) EmptyPositions() []int {
	out := make([]int, 0, len(b))
	for i, s := range b {
		if s == Empty {
			out = append(out, i+1)
		}
	}
	return out
}

// String renders the board row by row with '.' for empty cells.
func (b Board) String() string {
	buf := make([]byte, 0, 11)
	for i, s := range b {
		if i > 0 && i%3 == 0 {
			buf = append(buf, '/')
		}
		switch s {
		case X, O:
			buf = append(buf, s[0])
		default:
			buf = append(buf, '.')
		}
	}
	return string(buf)
}

func positionField(p int) string { return strconv.Itoa(p) }
