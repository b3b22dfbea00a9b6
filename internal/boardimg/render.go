// Package boardimg draws a finished board as a PNG result card.
package boardimg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	cellSize    = 120
	gridLine    = 6
	margin      = 24
	captionH    = 40
	iconPadding = 14
	boardSize   = cellSize*3 + gridLine*2
)

var boardOrigin = image.Pt(margin, margin)

var (
	backgroundColor = color.RGBA{250, 247, 240, 255}
	gridColor       = color.RGBA{60, 63, 78, 255}
	captionPanel    = color.RGBA{28, 31, 46, 255}
	captionText     = color.RGBA{236, 239, 255, 255}
	winHighlight    = color.NRGBA{R: 255, G: 228, B: 120, A: 150}
)

// Renderer produces result cards.
type Renderer interface {
	RenderPNG(ctx context.Context, b tictactoe.Board, caption string) ([]byte, error)
}

type cardRenderer struct{}

func New() Renderer { return cardRenderer{} }

// Size is the pixel size of every card.
func Size() image.Point {
	return image.Pt(boardSize+margin*2, boardSize+margin*3+captionH)
}

func (cardRenderer) RenderPNG(ctx context.Context, b tictactoe.Board, caption string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sz := Size()
	img := image.NewRGBA(image.Rect(0, 0, sz.X, sz.Y))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	origin := boardOrigin
	if line, ok := b.WinningLine(); ok {
		for _, pos := range line {
			draw.Draw(img, cellRect(pos, origin), image.NewUniform(winHighlight), image.Point{}, draw.Over)
		}
	}
	drawGrid(img, origin)
	for pos := tictactoe.MinPosition; pos <= tictactoe.MaxPosition; pos++ {
		sign := b.At(pos)
		if sign == tictactoe.Empty {
			continue
		}
		icon, err := signIcon(sign, cellSize-iconPadding*2)
		if err != nil {
			return nil, err
		}
		r := cellRect(pos, origin).Inset(iconPadding)
		draw.Draw(img, r, icon, image.Point{}, draw.Over)
	}

	panel := image.Rect(margin, margin*2+boardSize, sz.X-margin, margin*2+boardSize+captionH)
	draw.Draw(img, panel, image.NewUniform(captionPanel), image.Point{}, draw.Src)
	drawCaption(img, panel, caption)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func cellRect(pos int, origin image.Point) image.Rectangle {
	row := (pos - 1) / 3
	col := (pos - 1) % 3
	x := origin.X + col*(cellSize+gridLine)
	y := origin.Y + row*(cellSize+gridLine)
	return image.Rect(x, y, x+cellSize, y+cellSize)
}

func drawGrid(img *image.RGBA, origin image.Point) {
	fill := image.NewUniform(gridColor)
	for i := 1; i < 3; i++ {
		off := i*cellSize + (i-1)*gridLine
		v := image.Rect(origin.X+off, origin.Y, origin.X+off+gridLine, origin.Y+boardSize)
		h := image.Rect(origin.X, origin.Y+off, origin.X+boardSize, origin.Y+off+gridLine)
		draw.Draw(img, v, fill, image.Point{}, draw.Src)
		draw.Draw(img, h, fill, image.Point{}, draw.Src)
	}
}

// basicfont only covers ASCII; other runes render as '?'
func drawCaption(img *image.RGBA, panel image.Rectangle, caption string) {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return
	}
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(captionText), Face: face}
	maxW := panel.Dx() - 16
	for runes := []rune(caption); d.MeasureString(caption).Round() > maxW && len(runes) > 4; {
		runes = runes[:len(runes)-1]
		caption = string(runes) + "..."
	}
	w := d.MeasureString(caption).Round()
	m := face.Metrics()
	baseline := panel.Min.Y + (panel.Dy()+m.Ascent.Ceil()-m.Descent.Ceil())/2
	d.Dot = fixed.P(panel.Min.X+(panel.Dx()-w)/2, baseline)
	d.DrawString(caption)
}
