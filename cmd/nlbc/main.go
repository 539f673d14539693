// NLBC CLI - runs, disassembles and verifies NLBC bytecode modules
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/nlbc/manifest"
	"github.com/chazu/nlbc/pkg/bytecode"
	"github.com/chazu/nlbc/vm"
	"github.com/chazu/nlbc/vm/native"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	disassemble := flag.Bool("dis", false, "Disassemble the module instead of running it")
	verifyOnly := flag.Bool("verify", false, "Verify the module and exit")
	allowNet := flag.Bool("allow-network", false, "Permit HTTP, sockets and remote imports")
	optimize := flag.Bool("O", false, "Fold constants before execution")
	noJIT := flag.Bool("no-jit", false, "Disable the hot loop compiler")
	jitThreshold := flag.Int("jit-threshold", 0, "Backedges before a loop is compiled (0 = default)")
	maxOps := flag.Int64("max-ops", 0, "Instruction budget (0 = default)")
	maxTime := flag.Duration("max-time", 0, "Wall-clock budget (0 = default)")
	maxDepth := flag.Int("max-depth", 0, "Call depth limit (0 = default)")
	cacheDir := flag.String("cache-dir", "", "Remote import cache directory")
	noManifest := flag.Bool("no-manifest", false, "Ignore any nlbc.toml")
	showEnv := flag.Bool("env", false, "Print the final environment after running")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nlbc [options] <module.nlbc>\n\n")
		fmt.Fprintf(os.Stderr, "Executes an NLBC bytecode module. Limits and gates come from an\n")
		fmt.Fprintf(os.Stderr, "nlbc.toml found next to the module (or any parent directory);\n")
		fmt.Fprintf(os.Stderr, "flags override the manifest.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  nlbc prog.nlbc                  # Run with defaults\n")
		fmt.Fprintf(os.Stderr, "  nlbc -dis prog.nlbc             # Show the disassembly\n")
		fmt.Fprintf(os.Stderr, "  nlbc -verify prog.nlbc          # Static checks only\n")
		fmt.Fprintf(os.Stderr, "  nlbc -allow-network prog.nlbc   # Open the network gate\n")
		fmt.Fprintf(os.Stderr, "  nlbc -O -max-ops 100000 prog.nlbc\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	if *verbose {
		commonlog.Configure(1, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	mod, err := bytecode.Decode(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: decode %s: %v\n", path, err)
		os.Exit(1)
	}
	if *verbose {
		fmt.Printf("Loaded %s (%d bytes, %d constants, %d functions, %d classes)\n",
			path, len(data), len(mod.Constants), len(mod.Functions), len(mod.Classes))
	}

	if *disassemble {
		fmt.Print(bytecode.Disassemble(mod))
		return
	}
	if *verifyOnly {
		if err := bytecode.Verify(mod); err != nil {
			fmt.Fprintf(os.Stderr, "Verification failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("OK")
		return
	}

	opts := loadOptions(path, *noManifest, *verbose)
	if *allowNet {
		opts.AllowNet = true
	}
	if *optimize {
		opts.Optimize = true
	}
	if *noJIT {
		opts.DisableJIT = true
	}
	if *jitThreshold > 0 {
		opts.JITThreshold = *jitThreshold
	}
	if *maxOps > 0 {
		opts.MaxOps = *maxOps
	}
	if *maxTime > 0 {
		opts.MaxDuration = *maxTime
	}
	if *maxDepth > 0 {
		opts.MaxDepth = *maxDepth
	}
	if *cacheDir != "" {
		opts.CacheDir = *cacheDir
	}

	if !opts.DisableJIT {
		native.Register()
	}

	in, err := vm.New(mod, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	start := time.Now()
	env, err := in.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		fmt.Printf("Executed %d instructions in %v\n", in.OpCount(), time.Since(start).Round(time.Microsecond))
	}
	if *showEnv {
		printEnv(env)
	}
}

// loadOptions pulls interpreter options from the nearest nlbc.toml.
func loadOptions(modulePath string, skip, verbose bool) vm.Options {
	if skip {
		return vm.Options{}
	}
	m, err := manifest.FindAndLoad(filepath.Dir(modulePath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return vm.Options{}
	}
	if m == nil {
		return vm.Options{}
	}
	if verbose {
		fmt.Printf("Using manifest %s\n", filepath.Join(m.Dir, "nlbc.toml"))
	}
	return m.Options()
}

// printEnv lists the surviving bindings, metadata keys last.
func printEnv(env vm.Env) {
	var names, meta []string
	for k := range env {
		if len(k) > 0 && k[0] == '_' {
			meta = append(meta, k)
		} else {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	sort.Strings(meta)
	for _, k := range names {
		fmt.Printf("%s = %s\n", k, vm.Format(env[k]))
	}
	for _, k := range meta {
		fmt.Printf("%s = %s\n", k, vm.Format(env[k]))
	}
}
