// Command facelogin is the terminal front end of FaceLogin: password and
// face login, registration with face enrollment, and maintenance commands.
package main

func main() {
	Execute()
}
