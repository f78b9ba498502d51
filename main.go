// Command dce runs the DCE acquisition service and CLI.
package main

import "github.com/olam-creations/lefilonao-sub001/cmd"

func main() {
	cmd.Execute()
}
