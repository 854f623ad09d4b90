package cmd

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ColonelBlimp/morselink/internal/cw"
	"github.com/ColonelBlimp/morselink/internal/receiver"
	"github.com/spf13/cobra"
)

var framesCmd = &cobra.Command{
	Use:   "frames DIR",
	Short: "Decode a flashing light from a directory of PNG frames",
	Long: `Reads the PNG files in DIR in name order as video frames taken at --fps,
measures the mean brightness of each and decodes the flashes.`,
	Args: cobra.ExactArgs(1),
	RunE: runFrames,
}

func init() {
	framesCmd.Flags().Float64("fps", 30, "frame rate the frames were captured at")
	framesCmd.Flags().String("report", "", "write a YAML diagnostics report to this file")
}

func runFrames(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(cmd, s)

	fps, _ := cmd.Flags().GetFloat64("fps")
	if fps <= 0 {
		return fmt.Errorf("fps must be positive, got %v", fps)
	}
	paths, err := framePaths(args[0])
	if err != nil {
		return err
	}

	light, err := receiver.NewLight(cw.Standard, lightConfig(s), logger)
	if err != nil {
		return err
	}
	pub, err := openPublisher(s, logger)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}
	attachPublisher(light.Decoder(), pub)

	interval := time.Duration(float64(time.Second) / fps)
	origin := time.Now()
	for i, path := range paths {
		rgba, err := loadFrame(path)
		if err != nil {
			return err
		}
		// frame timestamps come from the index, so a rejected frame can only
		// mean a bug upstream; the receiver logs it
		_ = light.Frame(origin.Add(time.Duration(i)*interval), rgba)
	}
	light.Drain()
	logger.Printf("Frames: %d frames at %v fps, threshold %.3f", light.Frames(), fps, light.Threshold())

	fmt.Fprintln(cmd.OutOrStdout(), light.Text())
	return finishReport(cmd, light.Decoder(), args[0])
}

// framePaths lists the PNG files in dir sorted by name.
func framePaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no png frames in %s", dir)
	}
	slices.Sort(paths)
	return paths, nil
}

// loadFrame decodes a PNG into packed RGBA pixels.
func loadFrame(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", filepath.Base(path), err)
	}
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == 4*rgba.Rect.Dx() {
		return rgba.Pix, nil
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba.Pix, nil
}
