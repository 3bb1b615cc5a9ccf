// Package main provides the go-appsigner CLI for resigning iOS applications.
//
// The resigning pipeline lives in the resign subpackage and the signing
// primitives in the codesign subpackage:
//
//	import "github.com/aluedeke/go-appsigner/pkg/resign"
//
// Signing is performed by Apple's codesign tool with an identity from the
// login keychain, so the CLI runs on macOS with the Xcode command line tools
// installed.
//
// # Installation
//
//	go install github.com/aluedeke/go-appsigner@latest
package main
