// Command ipatool inspects app packages locally: it lists their
// entries, prints their manifests, and extracts single entries, all
// without touching a device.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"
	"howett.net/plist"

	"github.com/smnsjas/go-ipacore/manifest"
	"github.com/smnsjas/go-ipacore/zipstream"
)

const usage = `usage: ipatool <command> [flags] <args>

commands:
  entries <package>           list the package's entries
  manifest <package>          print the app manifest
  extract <package> <name>    write one entry to stdout
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "entries":
		err = cmdEntries(os.Args[2:])
	case "manifest":
		err = cmdManifest(os.Args[2:])
	case "extract":
		err = cmdExtract(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "ipatool: unknown command %q\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ipatool: %v\n", err)
		os.Exit(1)
	}
}

func cmdEntries(args []string) error {
	flags := flag.NewFlagSet("entries", flag.ExitOnError)
	long := flags.BoolP("long", "l", false, "include sizes and data offsets")
	flags.Parse(args)
	if flags.NArg() != 1 {
		return fmt.Errorf("entries takes exactly one package path")
	}

	s, err := zipstream.Open(flags.Arg(0))
	if err != nil {
		return err
	}
	defer s.Close()

	for {
		e, err := s.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if *long {
			size := fmt.Sprintf("%d", e.UncompressedSize)
			if e.SizesDeferred() {
				size = "?"
			}
			fmt.Printf("%10s  %8d  %s\n", size, e.DataOffset, e.Name)
		} else {
			fmt.Println(e.Name)
		}
	}
}

func cmdManifest(args []string) error {
	flags := flag.NewFlagSet("manifest", flag.ExitOnError)
	asJSON := flags.Bool("json", false, "print the raw manifest as JSON")
	asXML := flags.Bool("xml", false, "print the raw manifest as an XML property list")
	flags.Parse(args)
	if flags.NArg() != 1 {
		return fmt.Errorf("manifest takes exactly one package path")
	}

	s, err := zipstream.Open(flags.Arg(0))
	if err != nil {
		return err
	}
	defer s.Close()

	appRoot, err := zipstream.LocateAppRoot(s)
	if err != nil {
		return err
	}
	if appRoot == "" {
		return fmt.Errorf("%s: no application directory under Payload/", flags.Arg(0))
	}
	data, err := s.ExtractNamed(appRoot + manifest.InfoName)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%s: no %s under %s", flags.Arg(0), manifest.InfoName, appRoot)
	}

	switch {
	case *asJSON:
		dict, err := manifest.ParseDict(data)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(dict)
	case *asXML:
		dict, err := manifest.ParseDict(data)
		if err != nil {
			return err
		}
		out, err := plist.MarshalIndent(dict, plist.XMLFormat, "\t")
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(out, '\n'))
		return err
	default:
		info, err := manifest.ParseAppInfo(data)
		if err != nil {
			return err
		}
		fmt.Printf("CFBundleIdentifier:         %s\n", info.BundleIdentifier)
		fmt.Printf("CFBundleExecutable:         %s\n", info.BundleExecutable)
		fmt.Printf("CFBundleDisplayName:        %s\n", info.DisplayName)
		fmt.Printf("CFBundleShortVersionString: %s\n", info.Version)
		return nil
	}
}

func cmdExtract(args []string) error {
	flags := flag.NewFlagSet("extract", flag.ExitOnError)
	output := flags.StringP("output", "o", "", "write to this file instead of stdout")
	flags.Parse(args)
	if flags.NArg() != 2 {
		return fmt.Errorf("extract takes a package path and an entry name")
	}

	s, err := zipstream.Open(flags.Arg(0))
	if err != nil {
		return err
	}
	defer s.Close()

	data, err := s.ExtractNamed(flags.Arg(1))
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%s: no entry named %s", flags.Arg(0), flags.Arg(1))
	}

	if *output != "" {
		return os.WriteFile(*output, data, 0o644)
	}
	_, err = os.Stdout.Write(data)
	return err
}
