// meshguard 网络韧性节点与运维命令行
package main

func main() {
	Execute()
}
