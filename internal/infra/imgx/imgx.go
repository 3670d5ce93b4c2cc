package imgx

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // 注册 GIF 解码器
	"image/jpeg"
	_ "image/png" // 注册 PNG 解码器（输入不一定总是 jpeg）
)

// DefaultMaxBytes 是需要重新压缩的阈值（400 KB）。
const DefaultMaxBytes = 400 * 1024

const (
	startQuality = 95
	minQuality   = 10
	qualityStep  = 5
)

// CompressJPEG 把超过 maxBytes 的图片重新编码为 JPEG，返回新内容与是否发生了压缩。
//
// 约束：
// - 不超过 maxBytes 的输入原样返回（compressed=false）
// - 输入允许是 JPEG/PNG/GIF（依赖标准库解码器）；透明像素铺在白底上
// - 质量从 95 开始每次降 5，取第一个不超过 maxBytes 的结果；降到 10 仍超出则用质量 10 的结果
func CompressJPEG(data []byte, maxBytes int) ([]byte, bool, error) {
	if len(data) == 0 {
		return nil, false, errors.New("图片为空")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(data) <= maxBytes {
		return data, false, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, err
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, false, errors.New("图片尺寸无效")
	}

	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)

	var out bytes.Buffer
	for q := startQuality; ; q -= qualityStep {
		out.Reset()
		if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: q}); err != nil {
			return nil, false, err
		}
		if out.Len() <= maxBytes || q <= minQuality {
			return out.Bytes(), true, nil
		}
	}
}
