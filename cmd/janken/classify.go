package main

import (
	"fmt"
	"image"
	"os"
	"text/tabwriter"

	"github.com/nfnt/resize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/ayusman/janken/internal/capture"
	"github.com/ayusman/janken/internal/classifier"
	"github.com/ayusman/janken/internal/dispatch"
	"github.com/ayusman/janken/internal/encoder"
	"github.com/ayusman/janken/internal/pose"
	"github.com/ayusman/janken/internal/store"
)

// DefaultMaxSide bounds the longest image side sent to the estimator.
const DefaultMaxSide = 1280

var classifyOpts struct {
	model   string
	maxSide int
	save    bool
}

var classifyCmd = &cobra.Command{
	Use:   "classify <image>...",
	Short: "Classify the hand gesture in still images",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("model") {
			cfg.Model.Path = classifyOpts.model
		}
		return runClassify(args)
	},
}

func init() {
	f := classifyCmd.Flags()
	f.StringVar(&classifyOpts.model, "model", "", "ONNX gesture model (default built-in templates)")
	f.IntVar(&classifyOpts.maxSide, "max-side", DefaultMaxSide, "downscale images whose longest side exceeds this")
	f.BoolVar(&classifyOpts.save, "save", false, "store results in the history database")
	rootCmd.AddCommand(classifyCmd)
}

type classifyResult struct {
	path string
	text string
	err  error
}

func runClassify(paths []string) error {
	est, err := pose.NewMediaPipeEstimator(pose.Config{
		MinConfidence: cfg.Pose.MinConfidence,
		FlipY:         cfg.Pose.FlipY,
		Script:        cfg.Pose.Script,
		Python:        cfg.Pose.Python,
	})
	if err != nil {
		return fmt.Errorf("hand-pose estimator: %w", err)
	}
	defer est.Close()

	cls, err := classifier.Load(classifier.Options{
		ModelPath:         cfg.Model.Path,
		MetadataPath:      cfg.Model.Metadata,
		SharedLibraryPath: cfg.Model.SharedLibraryPath,
	})
	if err != nil {
		return err
	}
	defer cls.Close()

	d, err := dispatch.New(dispatch.Config{
		Estimator:  est,
		Encoder:    encoder.New(),
		Classifier: cls,
	})
	if err != nil {
		return err
	}

	var st *store.Store
	if classifyOpts.save {
		if st, err = openStore(); err != nil {
			return err
		}
		defer st.Close()
	}

	var bar *progressbar.ProgressBar
	if len(paths) > 1 {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetDescription("Classifying"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
	}

	results := make([]classifyResult, 0, len(paths))
	failed := 0
	for i, path := range paths {
		res := classifyResult{path: path}
		out, err := classifyImage(d, path, uint64(i+1), classifyOpts.maxSide)
		if err != nil {
			res.err = err
			failed++
		} else {
			res.text = out.Update().Text()
			if out.State == dispatch.Failed {
				failed++
			}
			if st != nil {
				if err := savePrediction(st, path, out); err != nil {
					res.err = err
				}
			}
		}
		results = append(results, res)
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "IMAGE\tRESULT")
	for _, r := range results {
		text := r.text
		if r.err != nil {
			text = "error: " + r.err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\n", r.path, text)
	}
	w.Flush()

	if failed > 0 {
		return fmt.Errorf("%d of %d images could not be classified", failed, len(paths))
	}
	return nil
}

// classifyImage loads one image and runs it through the frame pipeline.
func classifyImage(d *dispatch.Dispatcher, path string, seq uint64, maxSide int) (dispatch.Outcome, error) {
	mat, err := loadImage(path, maxSide)
	if err != nil {
		return dispatch.Outcome{}, err
	}
	frame := &capture.Frame{Mat: mat, Seq: seq}
	defer frame.Close()

	return d.Process(frame), nil
}

// loadImage reads path as a BGRA Mat, downscaling it when its longest side
// exceeds maxSide.
func loadImage(path string, maxSide int) (*gocv.Mat, error) {
	src := gocv.IMRead(path, gocv.IMReadColor)
	if src.Empty() {
		src.Close()
		return nil, fmt.Errorf("%s: not a readable image", path)
	}

	if maxSide > 0 && max(src.Cols(), src.Rows()) > maxSide {
		img, err := src.ToImage()
		src.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		scaled := downscale(img, maxSide)
		src, err = gocv.ImageToMatRGB(scaled)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	bgra := gocv.NewMat()
	gocv.CvtColor(src, &bgra, gocv.ColorBGRToBGRA)
	src.Close()
	return &bgra, nil
}

// downscale shrinks img so its longest side is maxSide, keeping the aspect
// ratio. Smaller images are returned unchanged.
func downscale(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	if maxSide <= 0 || (b.Dx() <= maxSide && b.Dy() <= maxSide) {
		return img
	}
	if b.Dx() >= b.Dy() {
		return resize.Resize(uint(maxSide), 0, img, resize.Lanczos3)
	}
	return resize.Resize(0, uint(maxSide), img, resize.Lanczos3)
}

func savePrediction(st *store.Store, path string, out dispatch.Outcome) error {
	p := &store.Prediction{
		Seq:           out.Seq,
		State:         out.State.String(),
		Label:         out.Label,
		Confidence:    out.Confidence,
		Probabilities: out.Probabilities,
		Source:        path,
	}
	if out.Err != nil {
		p.Error = out.Err.Error()
	}
	if err := st.Predictions().Create(p); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}
