// Command detect runs change detection on a video file and prints the
// captured keyframe events, without any AI calls.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/technosupport/ts-comply/internal/detect"
	"github.com/technosupport/ts-comply/internal/media"
)

func main() {
	threshold := flag.Float64("threshold", 0, "change score threshold (0 = default)")
	outDir := flag.String("out", "", "directory for keyframe JPEGs (empty = no writes)")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: detect [-threshold N] [-out DIR] <video>")
	}
	path := flag.Arg(0)

	ctx := context.Background()
	tools := media.DefaultTools()
	meta, err := tools.Probe(ctx, path)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}
	fmt.Printf("%s: %.1fs, %.1f fps, %dx%d\n",
		meta.Filename, meta.Duration, meta.FPS, meta.Width, meta.Height)

	events, err := detect.DetectFile(ctx, tools, path, meta, detect.Options{
		ChangeThreshold: *threshold,
		KeyframesDir:    *outDir,
	})
	if err != nil {
		log.Fatalf("detect: %v", err)
	}

	for _, ev := range events {
		fmt.Printf("  #%d  t=%6.2fs  frame=%d  score=%.3f  %s\n",
			ev.Index, ev.Timestamp, ev.FrameNumber, ev.ChangeScore, ev.Trigger)
	}
	fmt.Printf("%d keyframes\n", len(events))
}
