// Command redirects wires the functions annotated with a
// //go:redirect-from directive into the kernel image. The kernel cannot use
// the Go runtime's memory and panic machinery as is; instead, selected
// runtime symbols are patched at boot to jump to kernel replacements. This
// tool finds the directives and fills the image's .goredirectstbl section
// with (source address, destination address) pairs.
//
// Usage:
//
//	redirects count
//	redirects populate-table <kernel image>
package main

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/packages"
)

const (
	redirectDirective = "//go:redirect-from"
	redirectSection   = ".goredirectstbl"
)

type redirect struct {
	src string
	dst string

	srcVMA uint64
	dstVMA uint64
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[redirects] error: %s\n", err.Error())
	os.Exit(1)
}

// loadKernelPackages parses every package below the kernel folder as it is
// compiled for the target, so that files guarded by the riscv64 build tag
// are included.
func loadKernelPackages(dir string) ([]*packages.Package, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax,
		Dir:  dir,
		Env:  append(os.Environ(), "GOOS=linux", "GOARCH=riscv64", "CGO_ENABLED=0"),
	}

	pkgs, err := packages.Load(cfg, "./kernel/...")
	if err != nil {
		return nil, err
	}

	var errs []string
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		for _, err := range pkg.Errors {
			errs = append(errs, err.Error())
		}
	})
	if len(errs) != 0 {
		return nil, errors.New(strings.Join(errs, "\n"))
	}

	return pkgs, nil
}

// findRedirects collects the redirect directives attached to function
// declarations. The destination is the fully qualified symbol name of the
// annotated function.
func findRedirects(pkgs []*packages.Package) ([]*redirect, error) {
	var redirects []*redirect

	for _, pkg := range pkgs {
		for _, f := range pkg.Syntax {
			for _, decl := range f.Decls {
				fnDecl, ok := decl.(*ast.FuncDecl)
				if !ok || fnDecl.Doc == nil || fnDecl.Recv != nil {
					continue
				}

				fqName := pkg.PkgPath + "." + fnDecl.Name.Name
				for _, comment := range fnDecl.Doc.List {
					if !strings.HasPrefix(comment.Text, redirectDirective) {
						continue
					}

					fields := strings.Fields(comment.Text)
					if len(fields) != 2 || fields[0] != redirectDirective {
						return nil, fmt.Errorf("malformed go:redirect-from syntax for %q", fqName)
					}

					redirects = append(redirects, &redirect{
						src: fields[1],
						dst: fqName,
					})
				}
			}
		}
	}

	return redirects, nil
}

// resolveRedirectSymbols looks up the addresses of both ends of every
// redirect.
func resolveRedirectSymbols(redirects []*redirect, symbols []elf.Symbol) error {
	for _, redirect := range redirects {
		for _, symbol := range symbols {
			if symbol.Name == redirect.src {
				redirect.srcVMA = symbol.Value
			}
			if symbol.Name == redirect.dst {
				redirect.dstVMA = symbol.Value
			}
		}

		switch {
		case redirect.srcVMA == 0:
			return fmt.Errorf("could not locate address of %q", redirect.src)
		case redirect.dstVMA == 0:
			return fmt.Errorf("could not locate address of %q", redirect.dst)
		}
	}

	return nil
}

// writeRedirectTable encodes the table as little-endian (src, dst) pairs.
func writeRedirectTable(w io.Writer, redirects []*redirect) error {
	for _, redirect := range redirects {
		if err := binary.Write(w, binary.LittleEndian, [2]uint64{redirect.srcVMA, redirect.dstVMA}); err != nil {
			return err
		}
	}

	return nil
}

func populateTable(redirects []*redirect, imgFile string) error {
	f, err := elf.Open(imgFile)
	if err != nil {
		return err
	}

	symbols, err := f.Symbols()
	if err != nil {
		f.Close()
		return err
	}

	section := f.Section(redirectSection)
	f.Close()
	if section == nil {
		return fmt.Errorf("%s: missing %s section", imgFile, redirectSection)
	}

	if need := uint64(len(redirects)) * 16; need > section.Size {
		return fmt.Errorf("%s: %s section holds %d bytes; %d required", imgFile, redirectSection, section.Size, need)
	}

	if err = resolveRedirectSymbols(redirects, symbols); err != nil {
		return fmt.Errorf("%s: %s", imgFile, err)
	}

	img, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer img.Close()

	if _, err = img.Seek(int64(section.Offset), io.SeekStart); err != nil {
		return err
	}

	return writeRedirectTable(img, redirects)
}

func main() {
	flag.Parse()
	if matches, _ := filepath.Glob("kernel/"); len(matches) != 1 {
		exit(errors.New("this tool must be run from the kernel root folder"))
	}

	if len(flag.Args()) == 0 {
		exit(errors.New("missing command"))
	}

	cmd := flag.Arg(0)
	var imgFile string
	switch cmd {
	case "count":
	case "populate-table":
		if len(flag.Args()) != 2 {
			exit(errors.New("populate-table requires the path to the kernel image as an argument"))
		}
		imgFile = flag.Arg(1)
	default:
		exit(fmt.Errorf("unknown command %q", cmd))
	}

	pkgs, err := loadKernelPackages(".")
	if err != nil {
		exit(err)
	}

	redirects, err := findRedirects(pkgs)
	if err != nil {
		exit(err)
	}

	if cmd == "count" {
		fmt.Printf("%d", len(redirects))
		return
	}

	if err = populateTable(redirects, imgFile); err != nil {
		exit(err)
	}
}
