package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/babi2707/segmark/cli/render"
	"github.com/babi2707/segmark/runtime"
	"github.com/babi2707/segmark/types"
)

// AnnotationCommand returns the annotation command with subcommands.
func AnnotationCommand() *cli.Command {
	return &cli.Command{
		Name:  "annotation",
		Usage: "Read or write an image's annotation document",
		Subcommands: []*cli.Command{
			{
				Name:   "get",
				Usage:  "Print the annotation document",
				Flags:  withOutput(imageIDFlag()),
				Action: withEnv(annotationGetAction),
			},
			{
				Name:   "save",
				Usage:  "Replace the annotation document",
				Flags:  withOutput(append([]cli.Flag{imageIDFlag()}, documentFlags()...)...),
				Action: withEnv(annotationWriteAction(false)),
			},
			{
				Name:   "auto-save",
				Usage:  "Merge top-level keys into the annotation document",
				Flags:  withOutput(append([]cli.Flag{imageIDFlag()}, documentFlags()...)...),
				Action: withEnv(annotationWriteAction(true)),
			},
		},
	}
}

func imageIDFlag() cli.Flag {
	return &cli.Int64Flag{
		Name:     "image-id",
		Usage:    "Registered image id",
		Required: true,
	}
}

func documentFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "data",
			Usage: "Annotation document as a JSON object",
		},
		&cli.StringFlag{
			Name:  "file",
			Usage: "Read the JSON document from a file (- for stdin)",
		},
	}
}

func annotationGetAction(c *cli.Context, r *render.Renderer, e *env) error {
	a, err := runtime.NewAnnotations(e.deps())
	if err != nil {
		return cli.Exit(err.Error(), exitUnexpected)
	}
	doc, err := a.Get(c.Context, c.Int64("image-id"))
	if err != nil {
		return fail(r, err)
	}
	return r.Render(doc.ToMap())
}

func annotationWriteAction(merge bool) envAction {
	return func(c *cli.Context, r *render.Renderer, e *env) error {
		doc, err := readDocument(c)
		if err != nil {
			return fail(r, err)
		}
		a, err := runtime.NewAnnotations(e.deps())
		if err != nil {
			return cli.Exit(err.Error(), exitUnexpected)
		}

		write := a.Save
		if merge {
			write = a.AutoSave
		}
		rec, err := write(c.Context, c.Int64("image-id"), doc)
		if err != nil {
			return fail(r, err)
		}
		return r.Render(rec)
	}
}

// readDocument parses the document from --data or --file.
func readDocument(c *cli.Context) (types.Document, error) {
	var raw []byte
	switch {
	case c.IsSet("data") && c.IsSet("file"):
		return nil, invalidDocument("pass either --data or --file, not both", nil)
	case c.IsSet("data"):
		raw = []byte(c.String("data"))
	case c.IsSet("file"):
		var err error
		if name := c.String("file"); name == "-" {
			raw, err = readAll(c.App.Reader)
		} else {
			raw, err = os.ReadFile(name)
		}
		if err != nil {
			return nil, invalidDocument("cannot read document", err)
		}
	default:
		return nil, invalidDocument("a document is required: pass --data or --file", nil)
	}

	doc, err := types.ParseDocument(raw)
	if err != nil {
		return nil, invalidDocument(fmt.Sprintf("invalid document: %v", err), err)
	}
	return doc, nil
}

// readAll reads r to the end, falling back to stdin when r is nil.
func readAll(r io.Reader) ([]byte, error) {
	if r == nil {
		r = os.Stdin
	}
	return io.ReadAll(r)
}

func invalidDocument(msg string, err error) error {
	return types.NewRunError(types.ErrInvalidInput, "annotation", msg, err)
}
