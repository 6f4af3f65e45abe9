/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/egolife/directory/cmd"

func main() {
	cmd.Execute()
}
