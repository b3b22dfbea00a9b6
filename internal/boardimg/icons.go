package boardimg

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

const (
	xIconSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">
<path d="M20 20 L80 80 M80 20 L20 80" stroke="#e2574c" stroke-width="14" stroke-linecap="round" fill="none"/>
</svg>`
	oIconSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">
<circle cx="50" cy="50" r="30" stroke="#3b8fd9" stroke-width="14" fill="none"/>
</svg>`
)

type iconKey struct {
	sign tictactoe.Sign
	size int
}

var (
	iconCache   = map[iconKey]image.Image{}
	iconCacheMu sync.RWMutex
)

func signIcon(sign tictactoe.Sign, size int) (image.Image, error) {
	key := iconKey{sign: sign, size: size}

	iconCacheMu.RLock()
	if img, ok := iconCache[key]; ok {
		iconCacheMu.RUnlock()
		return img, nil
	}
	iconCacheMu.RUnlock()

	var src string
	switch sign {
	case tictactoe.X:
		src = xIconSVG
	case tictactoe.O:
		src = oIconSVG
	default:
		return nil, fmt.Errorf("no icon for sign %q", sign)
	}

	icon, err := oksvg.ReadIconStream(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse %s icon: %w", sign, err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	iconCacheMu.Lock()
	iconCache[key] = img
	iconCacheMu.Unlock()
	return img, nil
}
