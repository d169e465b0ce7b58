// Command rrdc talks to rrdcached daemons from the shell.
//
//	rrdc update cpu.rrd N:0.5
//	rrdc --address tcp://metrics:42217 fetch cpu.rrd AVERAGE -s -1h
//	printf 'UPDATE a.rrd N:1\nFLUSH a.rrd\n' | rrdc batch
//
// Flags can also be set from the environment (RRDC_ADDRESS, RRDC_TIMEOUT,
// ...) or from a .env file. RRDCACHED_ADDRESS is honoured like rrdtool does.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
