package cli

import (
	"context"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/classindex/pkg/classfile"
)

func headerCmd(a *app) *Command {
	return &Command{
		Flags:   flag.NewFlagSet("header", flag.ContinueOnError),
		Usage:   "header <path>...",
		MinArgs: 1,
		ArgsErr: errMissingPath,
		Short:   "Print class headers",
		Long: `Print access flags, name, super-class and interfaces of every class in
the given .class files, directories, .jar or .zip archives.

Classes that cannot be parsed are reported as warnings.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			views := []headerView{}

			err := a.eachClass(ctx, o, args, func(e classEntry) {
				header, err := classfile.ParseHeader(e.Bytes)
				if err != nil {
					o.Warn(e.Location, err.Error())

					return
				}

				views = append(views, newHeaderView(e.Location, header))
			})
			if err != nil {
				return err
			}

			return encode(o.Writer(), a.cfg.Format, views)
		},
	}
}

func outlineCmd(a *app) *Command {
	fs := flag.NewFlagSet("outline", flag.ContinueOnError)
	annotations := fs.StringSlice("annotation", nil, "Also report this annotation (repeatable)")

	return &Command{
		Flags:   fs,
		Usage:   "outline [--annotation <name>] <path>...",
		MinArgs: 1,
		ArgsErr: errMissingPath,
		Short:   "Print class outlines",
		Long: `Print headers plus fields, methods and annotations of interest for every
class in the given .class files, directories, .jar or .zip archives.

Only runtime-visible annotations named with --annotation or in the config
"annotations" list are reported.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			set := a.annotations()
			set.Add(*annotations...)

			parser := classfile.NewParser(set)
			views := []outlineView{}

			err := a.eachClass(ctx, o, args, func(e classEntry) {
				outline, err := parser.Outline(e.Bytes, 0)
				if err != nil {
					o.Warn(e.Location, err.Error())

					return
				}

				views = append(views, newOutlineView(e.Location, outline))
			})
			if err != nil {
				return err
			}

			return encode(o.Writer(), a.cfg.Format, views)
		},
	}
}

// eachClass walks every path argument. Sources that cannot be read are
// warnings; cancellation is an error.
func (a *app) eachClass(ctx context.Context, o *IO, paths []string, fn func(classEntry)) error {
	for _, path := range paths {
		err := walkClasses(ctx, a.resolve(path), func(e classEntry) error {
			fn(e)

			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			o.Warn("skipped "+path, err.Error())
		}
	}

	return nil
}

// resolve makes path relative to the effective working directory.
func (a *app) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(a.cfg.EffectiveCwd, path)
}
