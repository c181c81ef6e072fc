package main

func main() {
	// Main function is required for c-shared build mode
	// but is not actually executed when used as shared library
}
