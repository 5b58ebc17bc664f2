// Package main provides the fenix command line tool.
//
// Usage:
//
//	fenix crawl [--organize]
//	fenix organize [--keep-copy]
//
// Credentials are read from FENIX_USERNAME and FENIX_PASSWORD.
package main

func main() {
	Execute()
}
