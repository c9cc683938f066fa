// Command goexpr checks, simplifies and samples expression declaration files.
//
// A declaration file is a YAML or JSON list of declarations:
//
//	- let: k
//	  value: {type: real, value: 2}
//	- fn: f
//	  params: [t]
//	  body: {type: mul, factors: [{type: var, name: k}, {type: var, name: t}]}
//	- let: y
//	  value: {type: call, name: f, args: [{type: var, name: x}]}
//
// Usage:
//
//	goexpr check decls.yaml
//	goexpr simplify decls.yaml y --free x
//	goexpr sample decls.yaml y --start -1 --end 1 --steps 10
//	goexpr sample decls.yaml z --grid --y-start 0 --y-end 1 --y-steps 4
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
