package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"roundicon/internal/icon"
	"roundicon/internal/image"
)

// Lists the frames of an ICO file and decodes the best one.
// Usage: icoinfo -file path/to/favicon.ico [-out best.png]

func main() {
	filePath := flag.String("file", "", "Path to ICO file to inspect")
	outPath := flag.String("out", "", "Write the best frame as PNG to this path")
	flag.Parse()

	if *filePath == "" {
		fmt.Println("Usage: icoinfo -file path/to/favicon.ico [-out best.png]")
		os.Exit(1)
	}

	data, err := os.ReadFile(*filePath)
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("ICO file: %s (%d bytes)\n", *filePath, len(data))
	entries, err := icon.ReadDirectory(data)
	if err != nil {
		fmt.Printf("Invalid directory: %v\n", err)
		os.Exit(1)
	}
	describe(os.Stdout, entries)

	img, err := image.DecodeICOSelectLargest(data)
	if err != nil {
		fmt.Printf("Decode failed: %v\n", err)
		os.Exit(1)
	}
	b := img.Bounds()
	fmt.Printf("Best frame: %dx%d\n", b.Dx(), b.Dy())
	if image.IsNearlyBlank(img) {
		fmt.Println("Warning: best frame is nearly blank")
	}

	if *outPath != "" {
		pngData, err := image.EncodePNG(img)
		if err != nil {
			fmt.Printf("PNG encoding failed: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*outPath, pngData, 0o644); err != nil {
			fmt.Printf("Error writing %s: %v\n", *outPath, err)
			os.Exit(1)
		}
		fmt.Printf("Saved best frame to: %s\n", *outPath)
	}
}

func describe(w io.Writer, entries []icon.Entry) {
	fmt.Fprintf(w, "%d frames:\n", len(entries))
	for i, e := range entries {
		kind := "BMP"
		if e.IsPNG {
			kind = "PNG"
		}
		fmt.Fprintf(w, "  #%d %dx%d %d bpp %s %d bytes at offset %d\n", i, e.Width, e.Height, e.BitCount, kind, e.Size, e.Offset)
	}
}
