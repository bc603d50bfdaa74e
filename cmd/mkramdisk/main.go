// Command mkramdisk assembles a directory of statically linked IA-32
// ELF binaries (idle, init, shell, and any test programs) into the
// flat table-of-contents image package ramdisk decodes at boot.
// Adapted from the teacher's kernel/chentry.go build-tool idiom (a
// small os/debug-elf-driven host program invoked from the Makefile) but
// new: the teacher links its ram disk image in directly from a
// pre-built archive rather than generating one, since this kernel's
// image format (package ramdisk's Encode/Decode) has no teacher
// precedent to adapt.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/d94ny/x86kernel/ramdisk"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Printf("%s <binary-dir> <out-image>\n", os.Args[0])
		os.Exit(1)
	}
	dir, out := os.Args[1], os.Args[2]

	files, err := os.ReadDir(dir)
	if err != nil {
		log.Fatal(err)
	}
	var names []string
	for _, f := range files {
		if !f.IsDir() {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	var entries []ramdisk.Entry
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Fatal(err)
		}
		entries = append(entries, ramdisk.Entry{Name: name, Bytes: data})
	}

	f, err := os.Create(out)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := ramdisk.Encode(f, entries); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %d entries to %s\n", len(entries), out)
}
