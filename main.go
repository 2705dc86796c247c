package main

import "github.com/efm6988/ntfs-forensic-recovery/cmd"

func main() {
	cmd.Execute()
}
