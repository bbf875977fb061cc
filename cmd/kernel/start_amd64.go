//go:build amd64

package main

import "levitateos/internal/boot"

func startKernel() {
	boot.StartX86_64()
}
