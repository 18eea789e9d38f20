package main

import "github.com/dmitrijs2005/metta/internal/ctl"

func main() {
	ctl.Execute()
}
